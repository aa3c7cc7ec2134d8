package internal

import (
	"crypto/rand"
	"errors"
	"time"
)

// 系統設計問題：
//   如何管理雙人對局房間的生命週期與棋局狀態轉換？
//
// 核心挑戰：
//   1. 狀態管理：房間有明確的狀態轉換（空座 → 雙方入座 → 輪流落子 → 結束 → 重置）
//   2. 座位語義：兩個座位各自獨立可空，「無人」與「有人」不容混淆
//   3. 勝負判定：每次成功落子後依序檢查勝利與平局（勝利優先）
//   4. 輪次時限：雙方入座後才開啟落子時限，逾時由清掃循環驅逐
//
// 設計方案：
//   ✅ 兩個獨立可空的座位指針 - 而非帶哨兵值的固定數組
//   ✅ 線性 9 格棋盤 - 勝利線以索引三元組窮舉
//   ✅ 結束後原地重置 - 保留雙方座位以便再戰，而非銷毀房間
//
// 注意：Room 沒有任何鎖。所有讀寫都發生在指令處理器這一個 goroutine
// 內，總序由指令隊列保證（見 engine.go）。

// Cell 棋盤格子狀態
type Cell byte

const (
	CellEmpty Cell = ' '
	CellX     Cell = 'X' // 玩家一
	CellO     Cell = 'O' // 玩家二
)

// 對局結束狀態（opcode 11 的 status）
const (
	StatusPlayer1Won uint8 = 1
	StatusPlayer2Won uint8 = 2
	StatusDraw       uint8 = 3
)

// 領域錯誤：回報給出錯會話（opcode 1007），從不中斷指令處理器，
// 也從不改動棋盤狀態。
var (
	ErrPositionOutOfRange = errors.New("position out of range")
	ErrNotYourTurn        = errors.New("not your turn")
	ErrCellOccupied       = errors.New("cell already occupied")
)

// winLines 全部 8 條勝利線：三行、三列、兩條對角線
var winLines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// Room 一個對局/匹配單元
//
// 座位一是房間存在的前提（創建者），座位二在匹配或加入後填入。
// Code 非空表示私人房間，按 id 加入時必須精確匹配；為空表示公開
// 房間，可經匹配或公開列表加入。TurnDeadline 在雙方入座前保持零值。
type Room struct {
	Board   [9]Cell
	Player1 *Session
	Player2 *Session

	// Player1Turn 輪到玩家一落子
	Player1Turn bool
	// TurnDeadline 當前回合的起點；零值表示時限尚未開啟
	TurnDeadline time.Time

	// Code 私人房間加入碼；空字符串表示公開房間
	Code string
	// Name 創建者名稱，用於房間列表
	Name string
}

// NewRoom 創建房間
func NewRoom(player1 *Session, code, name string) *Room {
	r := &Room{
		Player1:     player1,
		Player1Turn: true,
		Code:        code,
		Name:        name,
	}
	for i := range r.Board {
		r.Board[i] = CellEmpty
	}
	return r
}

// IsAvailable 房間是否還有空座
func (r *Room) IsAvailable() bool {
	return r.Player1 == nil || r.Player2 == nil
}

// IsEmpty 兩個座位都為空（邏輯上已刪除，等待清掃）
func (r *Room) IsEmpty() bool {
	return r.Player1 == nil && r.Player2 == nil
}

// FindPlayer 地址是否佔據本房間的某個座位
func (r *Room) FindPlayer(addr string) bool {
	return isPlayer(r.Player1, addr) || isPlayer(r.Player2, addr)
}

// PlayerCount 已佔用的座位數
func (r *Room) PlayerCount() uint8 {
	var count uint8
	if r.Player1 != nil {
		count++
	}
	if r.Player2 != nil {
		count++
	}
	return count
}

// CurrentTurn 當前應落子的會話；對應座位為空時返回 nil
func (r *Room) CurrentTurn() *Session {
	if r.Player1Turn {
		return r.Player1
	}
	return r.Player2
}

// MarkPosition 標記棋盤位置
//
// 失敗路徑（索引越界、非本方輪次、格子已佔用）不改動任何狀態。
// 成功後的輪次翻轉與期限刷新由調用方的 RefreshTurn 完成，與對手
// 通知的順序保持一致。
func (r *Room) MarkPosition(isPlayer1 bool, position int) error {
	if position < 0 || position > 8 {
		return ErrPositionOutOfRange
	}
	if isPlayer1 != r.Player1Turn {
		return ErrNotYourTurn
	}
	if r.Board[position] != CellEmpty {
		return ErrCellOccupied
	}

	if isPlayer1 {
		r.Board[position] = CellX
	} else {
		r.Board[position] = CellO
	}
	return nil
}

// RefreshTurn 翻轉輪次並刷新落子期限
func (r *Room) RefreshTurn() {
	r.Player1Turn = !r.Player1Turn
	r.TurnDeadline = time.Now()
}

// IsWin 棋盤上是否存在勝利線
//
// 一條線構成勝利當且僅當三格相等且非空。
func (r *Room) IsWin() bool {
	for _, line := range winLines {
		a, b, c := r.Board[line[0]], r.Board[line[1]], r.Board[line[2]]
		if a != CellEmpty && a == b && b == c {
			return true
		}
	}
	return false
}

// IsFull 棋盤是否已無空格
func (r *Room) IsFull() bool {
	for _, cell := range r.Board {
		if cell == CellEmpty {
			return false
		}
	}
	return true
}

// Reset 對局結束後原地重置
//
// 清空棋盤並重新初始化輪次狀態，保留雙方座位以便再戰。雙方仍然
// 在座時立即開啟新一輪的落子時限。
func (r *Room) Reset() {
	for i := range r.Board {
		r.Board[i] = CellEmpty
	}
	r.Player1Turn = true
	r.TurnDeadline = time.Time{}
	if r.PlayerCount() == 2 {
		r.TurnDeadline = time.Now()
	}
}

// isPlayer 座位非空且地址匹配
func isPlayer(session *Session, addr string) bool {
	return session != nil && session.Addr == addr
}

// generateRoomCode 生成加入碼
//
// public 為 true 時返回空字符串（公開房間不設碼）；否則生成 5 位
// 大寫字母與數字組成的加入碼，作為私人/公開的判別依據。
func generateRoomCode(public bool) string {
	if public {
		return ""
	}

	const chars = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, 5)
	if _, err := rand.Read(b); err != nil {
		// 隨機讀取失敗時退化為時間種子
		for i := range b {
			b[i] = chars[int(time.Now().UnixNano()>>uint(i*8))%len(chars)]
		}
		return string(b)
	}
	for i := range b {
		b[i] = chars[int(b[i])%len(chars)]
	}
	return string(b)
}
