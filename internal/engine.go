package internal

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// 系統設計問題：
//   如何讓大量獨立的網絡任務安全地改動共享遊戲狀態，而不使用鎖？
//
// 核心挑戰：
//   1. 並發控制：每個連接一個任務，全部想改 rooms 與等待隊列
//   2. 順序保證：指令必須有明確的全序，一條處理完才輪到下一條
//   3. 故障隔離：單個會話的領域錯誤不能波及其他房間或中斷主循環
//   4. 定時驅逐：落子逾時與孤兒房間由同一個循環清掃，保持全序
//
// 設計方案：
//   ✅ 單消費者指令循環 - 用消息傳遞取代互斥鎖（actor 模式）
//   ✅ 多生產者緩衝 channel - 連接任務只投遞指令，從不直接觸碰狀態
//   ✅ 出站扇出在循環內顯式迭代 - 廣播也不併發，維持全序不變量
//   ✅ 清掃合併進同一 select - 定時驅逐與指令處理共享同一個串行化點
//
// 為什麼不用鎖？
//   - 鎖保護的是數據，這裡要保護的是「操作之間的順序」
//   - 單消費者循環天然給出 happens-before：一條指令的效果對之後
//     的每條指令完全可見
//   - 處理器內不存在搶佔，handler 總是運行到完成

const (
	// defaultSweepInterval 清掃循環的週期
	defaultSweepInterval = 15 * time.Second
	// defaultTurnTimeout 雙方入座後單回合的落子時限
	defaultTurnTimeout = 30 * time.Second
	// commandBuffer 指令隊列緩衝（多生產者、單消費者）
	commandBuffer = 256
)

// Engine 指令處理器：rooms 與等待隊列的唯一改動者
//
// rooms 以切片下標作為房間 id（刪除房間時後續 id 前移，與列表
// 廣播保持一致）。queue 是尚未入座的會話。兩者只在 run goroutine
// 內讀寫；HTTP 統計端點讀取的是每條指令後發布的原子快照。
type Engine struct {
	// SweepInterval 與 TurnTimeout 可在 Start 之前調整（測試用）
	SweepInterval time.Duration
	TurnTimeout   time.Duration

	rooms []*Room
	queue []*Session

	commands chan Command
	logger   *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup

	// 統計快照（原子讀寫，供 /stats 使用）
	roomCount    atomic.Int64
	waitingCount atomic.Int64
	commandTotal atomic.Int64
}

// NewEngine 創建指令處理器（尚未啟動，調用 Start 開始消費）
func NewEngine(logger *slog.Logger) *Engine {
	return &Engine{
		SweepInterval: defaultSweepInterval,
		TurnTimeout:   defaultTurnTimeout,
		commands:      make(chan Command, commandBuffer),
		logger:        logger,
		stopCh:        make(chan struct{}),
	}
}

// Start 啟動指令循環
func (e *Engine) Start() {
	e.wg.Add(1)
	go e.run()
}

// Stop 停止指令循環並等待退出
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
	e.logger.Info("指令處理器已停止")
}

// Dispatch 投遞指令（非阻塞）
//
// 隊列滿或處理器已停止時丟棄並記錄。投遞失敗不致命：此時進程
// 正在關閉，發起方的連接任務也即將被回收。
func (e *Engine) Dispatch(cmd Command) {
	select {
	case e.commands <- cmd:
	default:
		e.logger.Warn("指令隊列已滿，指令被丟棄", "kind", cmd.Kind, "addr", cmd.Addr)
	}
}

// run 指令循環：單消費者，一條指令處理到完成再取下一條
func (e *Engine) run() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case cmd := <-e.commands:
			e.handle(cmd)
			e.publishStats()
		case <-ticker.C:
			e.sweep()
			e.publishStats()
		case <-e.stopCh:
			return
		}
	}
}

// handle 按標籤分發到對應的 handler
func (e *Engine) handle(cmd Command) {
	e.commandTotal.Add(1)

	switch cmd.Kind {
	case CmdConnect:
		e.handleConnect(cmd)
	case CmdJoinRoom:
		e.handleJoinRoom(cmd)
	case CmdCreateRoom:
		e.handleCreateRoom(cmd)
	case CmdMarkPosition:
		e.handleMarkPosition(cmd)
	case CmdPlayAgain:
		e.handlePlayAgain(cmd)
	case CmdDeleteRoom:
		e.handleDeleteRoom(cmd)
	case CmdListRooms:
		e.handleListRooms(cmd)
	case CmdLeaveRoom:
		e.handleLeaveRoom(cmd)
	case CmdRemoveUser:
		e.handleRemoveUser(cmd)
	default:
		e.logger.Warn("未知指令類型", "kind", cmd.Kind, "addr", cmd.Addr)
	}
}

// handleConnect 新會話進入等待隊列
//
// 這是會話對象唯一一次跨任務移動：連接任務創建後隨指令交出，
// 之後的歸屬（等待隊列、座位）完全由指令循環管理。
func (e *Engine) handleConnect(cmd Command) {
	e.queue = append(e.queue, cmd.Session)
	e.logger.Debug("會話已註冊", "addr", cmd.Addr)
}

// handleJoinRoom 按 id（與可選加入碼）加入房間
//
// 加入碼不匹配時靜默丟棄，不通知調用方——與原始行為保持一致。
// 已入座的地址重複加入是 no-op。
func (e *Engine) handleJoinRoom(cmd Command) {
	if _, ok := e.findRoom(cmd.Addr); ok {
		return
	}
	if cmd.RoomID < 0 || cmd.RoomID >= len(e.rooms) {
		return
	}

	room := e.rooms[cmd.RoomID]

	var supplied string
	if cmd.RoomCode != nil {
		supplied = *cmd.RoomCode
	}
	if supplied != room.Code {
		return
	}

	session, ok := e.takeFromQueue(cmd.Addr)
	if !ok {
		return
	}
	if cmd.PlayerName != "" {
		session.Name = cmd.PlayerName
	}

	e.seatPlayer(session, room)
	e.logger.Info("玩家加入房間", "addr", cmd.Addr, "room_id", cmd.RoomID, "name", session.Name)
}

// handleCreateRoom 創建房間並入座為玩家一
//
// 先把創建者移出等待隊列，隨後的房間廣播因此只到達其他等待中的
// 會話。私人房間額外給創建者發送加入碼。
func (e *Engine) handleCreateRoom(cmd Command) {
	session, ok := e.takeFromQueue(cmd.Addr)
	if !ok {
		return
	}
	if cmd.PlayerName != "" {
		session.Name = cmd.PlayerName
	}

	code := generateRoomCode(cmd.Public)
	room := NewRoom(session, code, session.Name)
	e.rooms = append(e.rooms, room)
	roomID := len(e.rooms) - 1

	if code != "" {
		session.Send(OwnerCodeEnvelope(code))
	}

	e.notifyWaiting(RoomCreatedEnvelope(roomID, session.Name, 1, cmd.Public))
	e.logger.Info("房間已創建",
		"room_id", roomID,
		"name", session.Name,
		"public", cmd.Public)
}

// handleMarkPosition 標記棋盤位置
//
// 領域錯誤只回報給出錯的會話；成功落子依序：通知對手 → 翻轉輪次
// → 勝負判定（勝利優先於平局）→ 結束事件 → 原地重置。
func (e *Engine) handleMarkPosition(cmd Command) {
	idx, ok := e.findRoom(cmd.Addr)
	if !ok {
		return
	}
	room := e.rooms[idx]

	isPlayer1 := isPlayer(room.Player1, cmd.Addr)
	mover := room.Player1
	other := room.Player2
	if !isPlayer1 {
		mover, other = room.Player2, room.Player1
	}

	if err := room.MarkPosition(isPlayer1, cmd.Position); err != nil {
		mover.Send(ErrorEnvelope(err))
		return
	}

	if other != nil {
		other.Send(MoveEnvelope(cmd.Position))
	}
	room.RefreshTurn()
	e.logger.Debug("收到落子", "addr", cmd.Addr, "position", cmd.Position)

	var status uint8
	switch {
	case room.IsWin():
		status = StatusPlayer2Won
		if isPlayer1 {
			status = StatusPlayer1Won
		}
	case room.IsFull():
		status = StatusDraw
	default:
		return
	}

	end := EndRoomEnvelope(status)
	if room.Player1 != nil {
		room.Player1.Send(end)
	}
	if room.Player2 != nil {
		room.Player2.Send(end)
	}

	room.Reset()
	e.logger.Info("對局結束", "room_id", idx, "status", status)
}

// handlePlayAgain 再來一局
//
// 重置落子期限並交換先手，重新發送入座通知對，其餘狀態不變。
func (e *Engine) handlePlayAgain(cmd Command) {
	idx, ok := e.findRoom(cmd.Addr)
	if !ok {
		return
	}
	room := e.rooms[idx]
	if room.Player1 == nil || room.Player2 == nil {
		return
	}

	room.TurnDeadline = time.Now()
	room.Player1Turn = !room.Player1Turn

	room.Player1.Send(JoinedEnvelope(2, room.Player2.Name))
	room.Player2.Send(JoinedEnvelope(1, room.Player1.Name))
}

// handleDeleteRoom 刪除房間
//
// 只有佔據該房間玩家一座位的地址可以刪除，且指令攜帶的 id 必須
// 與實際位置一致。雙方座位釋放回等待隊列。
func (e *Engine) handleDeleteRoom(cmd Command) {
	idx := -1
	for i, room := range e.rooms {
		if isPlayer(room.Player1, cmd.Addr) {
			idx = i
			break
		}
	}
	if idx < 0 || idx != cmd.RoomID {
		return
	}

	room := e.rooms[idx]
	e.rooms = append(e.rooms[:idx], e.rooms[idx+1:]...)

	if room.Player1 != nil {
		e.queue = append(e.queue, room.Player1)
	}
	if room.Player2 != nil {
		e.queue = append(e.queue, room.Player2)
	}

	e.notifyWaiting(RoomDeletedEnvelope(cmd.RoomID))
	e.logger.Info("房間已刪除", "room_id", cmd.RoomID)
}

// handleListRooms 房間列表
//
// 只有等待中的會話能請求列表；回覆單播給請求方。
func (e *Engine) handleListRooms(cmd Command) {
	session, ok := e.findInQueue(cmd.Addr)
	if !ok {
		return
	}

	parties := make([]EventData, 0, len(e.rooms))
	for idx, room := range e.rooms {
		id := idx
		public := room.Code == ""
		parties = append(parties, EventData{
			ID:            &id,
			PlayerName:    room.Name,
			PlayersAmount: room.PlayerCount(),
			Public:        &public,
		})
	}

	session.Send(ListRoomsEnvelope(parties))
}

// handleLeaveRoom 離開房間回到等待隊列
func (e *Engine) handleLeaveRoom(cmd Command) {
	e.vacateSeat(cmd.Addr)
}

// handleRemoveUser 連接已斷開
//
// 已入座時走與離開房間相同的路徑；僅在等待隊列時直接整個移除
// （連接已消失，無須任何通知）。
func (e *Engine) handleRemoveUser(cmd Command) {
	if e.vacateSeat(cmd.Addr) {
		return
	}
	if idx, ok := e.queueIndex(cmd.Addr); ok {
		e.queue = append(e.queue[:idx], e.queue[idx+1:]...)
		e.logger.Debug("會話已移除", "addr", cmd.Addr)
	}
}

// vacateSeat 釋放地址佔據的座位
//
// 會話回到等待隊列，房間內的另一方（若有）收到離開通知，所有
// 等待中的會話收到房間變更廣播。返回是否找到了座位。
func (e *Engine) vacateSeat(addr string) bool {
	idx, ok := e.findRoom(addr)
	if !ok {
		return false
	}
	room := e.rooms[idx]

	var other *Session
	if isPlayer(room.Player1, addr) {
		e.queue = append(e.queue, room.Player1)
		room.Player1 = nil
		other = room.Player2
	} else {
		e.queue = append(e.queue, room.Player2)
		room.Player2 = nil
		other = room.Player1
	}
	room.TurnDeadline = time.Time{}

	if other != nil {
		other.Send(Envelope{Opcode: OpLeave})
	}

	e.notifyWaiting(PlayerLeftEnvelope(idx))
	e.logger.Info("玩家離開房間", "addr", addr, "room_id", idx)
	return true
}

// sweep 定時清掃
//
// 兩項職責，都在指令循環內執行以維持全序：
//  1. 落子逾時：雙方在座且期限已過的房間，向應落子一方的出站通道
//     發送關閉信號；其連接任務觀察到信號後自行斷開，並走正常的
//     RemoveUser 路徑回到這個循環
//  2. 孤兒房間：兩個座位都空的房間直接移除並廣播刪除事件
//
// 清掃從不直接改動有人的房間——驅逐永遠繞行連接任務，確保座位
// 釋放只有一條代碼路徑。
func (e *Engine) sweep() {
	now := time.Now()

	for idx := len(e.rooms) - 1; idx >= 0; idx-- {
		room := e.rooms[idx]

		if room.IsEmpty() {
			e.rooms = append(e.rooms[:idx], e.rooms[idx+1:]...)
			e.notifyWaiting(RoomDeletedEnvelope(idx))
			e.logger.Info("空房間已清理", "room_id", idx)
			continue
		}

		if room.PlayerCount() == 2 && !room.TurnDeadline.IsZero() &&
			now.Sub(room.TurnDeadline) > e.TurnTimeout {
			if current := room.CurrentTurn(); current != nil {
				e.logger.Info("落子逾時，驅逐玩家", "addr", current.Addr, "room_id", idx)
				current.Send(CloseEnvelope())
			}
		}
	}
}

// findRoom 地址所在房間的下標
func (e *Engine) findRoom(addr string) (int, bool) {
	for idx, room := range e.rooms {
		if room.FindPlayer(addr) {
			return idx, true
		}
	}
	return 0, false
}

// findInQueue 等待隊列中的會話（不移除）
func (e *Engine) findInQueue(addr string) (*Session, bool) {
	if idx, ok := e.queueIndex(addr); ok {
		return e.queue[idx], true
	}
	return nil, false
}

// queueIndex 等待隊列中的下標
func (e *Engine) queueIndex(addr string) (int, bool) {
	for idx, session := range e.queue {
		if session.Addr == addr {
			return idx, true
		}
	}
	return 0, false
}

// takeFromQueue 從等待隊列移出會話
func (e *Engine) takeFromQueue(addr string) (*Session, bool) {
	idx, ok := e.queueIndex(addr)
	if !ok {
		return nil, false
	}
	session := e.queue[idx]
	e.queue = append(e.queue[:idx], e.queue[idx+1:]...)
	return session, true
}

// seatPlayer 入座：優先座位一，雙方到齊後開啟落子時限並互發入座通知
func (e *Engine) seatPlayer(session *Session, room *Room) {
	var seatID int
	var other *Session
	var otherSeat int

	switch {
	case room.Player1 == nil:
		room.Player1 = session
		seatID, other, otherSeat = 1, room.Player2, 2
	case room.Player2 == nil:
		room.Player2 = session
		seatID, other, otherSeat = 2, room.Player1, 1
	default:
		// 房間已滿，會話留在等待隊列
		e.queue = append(e.queue, session)
		return
	}

	if room.PlayerCount() == 2 {
		room.TurnDeadline = time.Now()
	}

	if other != nil {
		other.Send(JoinedEnvelope(seatID, session.Name))
		session.Send(JoinedEnvelope(otherSeat, other.Name))
	}
}

// notifyWaiting 向所有等待中的會話廣播
//
// 扇出是循環內的顯式迭代，從不併發，以維持全序不變量。
func (e *Engine) notifyWaiting(env Envelope) {
	for _, session := range e.queue {
		session.Send(env)
	}
}

// publishStats 發布統計快照（每條指令/每次清掃後）
func (e *Engine) publishStats() {
	e.roomCount.Store(int64(len(e.rooms)))
	e.waitingCount.Store(int64(len(e.queue)))
}

// Stats 統計資訊（原子快照，可從任意 goroutine 讀取）
func (e *Engine) Stats() map[string]any {
	return map[string]any{
		"total_rooms":      e.roomCount.Load(),
		"waiting_sessions": e.waitingCount.Load(),
		"commands_handled": e.commandTotal.Load(),
	}
}
