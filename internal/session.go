package internal

import (
	"log/slog"
	"sync"
	"time"
)

// 系統設計問題：
//   如何表示一個活躍連接的身份與出站通路，且不引入共享可變狀態？
//
// 核心挑戰：
//   1. 唯一歸屬：會話在任一時刻只屬於 {等待隊列, 座位一, 座位二} 之一
//   2. 出站解耦：指令處理器從不直接寫 socket，只往會話的私有通道投遞
//   3. 盡力投遞：接收方已消失時丟棄消息並記錄，絕不重試、絕不升級為錯誤
//
// 設計方案：
//   ✅ 網絡地址作為穩定身份鍵（整個生命週期不變）
//   ✅ 緩衝 channel 作為私有出站通道（非阻塞發送）
//   ✅ 心跳時間戳由連接任務獨佔寫入、讀取

// Session 一個活躍連接的會話
//
// 由連接任務在 accept 時創建，之後的歸屬轉移（進入等待隊列、入座、
// 釋放）全部由指令處理器完成。除心跳時間戳外沒有並發訪問的欄位：
// Name 只在指令處理器內讀寫，Outbound 是多寫單讀的 channel。
type Session struct {
	// Addr 遠端地址，作為會話的穩定身份鍵
	Addr string
	// Name 玩家顯示名稱，入座或創建房間時由指令處理器填寫
	Name string

	outbound chan Envelope

	mu       sync.Mutex
	lastPong time.Time
}

// NewSession 創建會話
func NewSession(addr string) *Session {
	return &Session{
		Addr:     addr,
		outbound: make(chan Envelope, 64),
		lastPong: time.Now(),
	}
}

// Send 往會話的私有出站通道投遞消息（非阻塞）
//
// 通道滿（慢客戶端）時丟棄並記錄。投遞失敗從不影響指令處理器的
// 主循環，也從不重試。
func (s *Session) Send(env Envelope) {
	select {
	case s.outbound <- env:
	default:
		slog.Warn("出站通道已滿，消息被丟棄", "addr", s.Addr, "opcode", env.Opcode)
	}
}

// Outbound 出站通道的接收端，由該會話的連接任務獨佔讀取
func (s *Session) Outbound() <-chan Envelope {
	return s.outbound
}

// RefreshHeartbeat 收到傳輸層 pong 時刷新心跳時間戳
func (s *Session) RefreshHeartbeat() {
	s.mu.Lock()
	s.lastPong = time.Now()
	s.mu.Unlock()
}

// HeartbeatExpired 檢查距上次 pong 是否超過存活窗口
func (s *Session) HeartbeatExpired(window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastPong) > window
}
