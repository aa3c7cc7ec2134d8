package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

// 系統設計問題：
//   如何把一條傳輸連接橋接到指令隊列，而不讓任何網絡任務觸碰共享狀態？
//
// 核心挑戰：
//   1. 事件競爭：入站幀、出站消息、心跳節拍三個事件源要在同一生命週期內協作
//   2. 心跳檢測：死連接（網絡異常、客戶端崩潰）必須在固定窗口內被發現
//   3. 單一終止路徑：無論讀錯誤、寫錯誤、心跳失敗還是內部關閉信號，
//      連接任務的收尾動作只有一種——發出 RemoveUser 指令然後退出
//
// 設計方案：
//   ✅ 讀循環 + 寫循環，errgroup 聯結 - 任一循環退出即取消另一個
//   ✅ 寫循環持有心跳節拍器（20s ping / 45s 存活窗口）
//   ✅ 協議層 Ping/Pong 由傳輸層直接應答，不經過指令隊列
//   ✅ RemoveUser 只在兩個循環都結束後發出一次，避免重複移除

const (
	// heartbeatInterval 心跳節拍週期
	heartbeatInterval = 20 * time.Second
	// heartbeatWindow 距上次 pong 的存活窗口，超過即驅逐
	heartbeatWindow = 45 * time.Second
	// writeWait 單次寫操作的期限
	writeWait = 10 * time.Second
)

// Gateway WebSocket 接入層
//
// 只負責握手升級與連接任務的啟動；所有共享狀態的改動都經由
// 指令隊列間接完成。
type Gateway struct {
	// HeartbeatInterval 與 HeartbeatWindow 可在接受連接前調整（測試用）
	HeartbeatInterval time.Duration
	HeartbeatWindow   time.Duration

	engine   *Engine
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewGateway 創建接入層
func NewGateway(engine *Engine, logger *slog.Logger) *Gateway {
	return &Gateway{
		HeartbeatInterval: heartbeatInterval,
		HeartbeatWindow:   heartbeatWindow,
		engine:            engine,
		logger:            logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 生產環境應檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeWS 處理 WebSocket 連接
//
// 升級成功後創建會話、經指令隊列註冊進等待隊列，然後啟動連接任務。
// 會話對象隨 CmdConnect 移交給指令處理器，連接任務此後只保留
// 地址與出站通道的接收端。
func (g *Gateway) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	session := NewSession(conn.RemoteAddr().String())
	g.engine.Dispatch(Command{Kind: CmdConnect, Addr: session.Addr, Session: session})

	c := &connection{
		session:           session,
		conn:              conn,
		engine:            g.engine,
		logger:            g.logger,
		heartbeatInterval: g.HeartbeatInterval,
		heartbeatWindow:   g.HeartbeatWindow,
	}
	go c.run(context.Background())

	g.logger.Info("WebSocket 連接建立", "addr", session.Addr)
}

// connection 一條連接的任務狀態
type connection struct {
	session           *Session
	conn              *websocket.Conn
	engine            *Engine
	logger            *slog.Logger
	heartbeatInterval time.Duration
	heartbeatWindow   time.Duration
}

// run 連接任務主體
//
// 讀寫循環由 errgroup 聯結：任一循環返回即取消共享 context，
// 另一循環隨之退出。兩者都結束後才發出 RemoveUser——這是連接
// 任務唯一的正常終止路徑。
func (c *connection) run(ctx context.Context) {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return c.readLoop()
	})
	eg.Go(func() error {
		return c.writeLoop(ctx)
	})

	if err := eg.Wait(); err != nil {
		c.logger.Debug("連接循環退出", "addr", c.session.Addr, "reason", err)
	}

	c.engine.Dispatch(Command{Kind: CmdRemoveUser, Addr: c.session.Addr})
	c.logger.Info("連接已斷開", "addr", c.session.Addr)
}

// readLoop 入站幀 → 指令
//
// 協議層 pong 刷新心跳時間戳；ping 由 gorilla 的默認 handler 直接
// 回應 pong，不經過指令隊列。無法解碼的幀屬於協議錯誤，忽略後
// 連接保持打開。讀錯誤或對端關閉使循環返回，進而取消寫循環。
func (c *connection) readLoop() error {
	c.conn.SetPongHandler(func(string) error {
		c.session.RefreshHeartbeat()
		return nil
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("讀取錯誤", "addr", c.session.Addr, "error", err)
			}
			return err
		}
		if messageType != websocket.TextMessage {
			continue
		}

		env, err := DecodeEnvelope(data)
		if err != nil {
			c.logger.Debug("忽略無法解碼的幀", "addr", c.session.Addr, "error", err)
			continue
		}

		if cmd, ok := c.translate(env); ok {
			c.engine.Dispatch(cmd)
		}
	}
}

// translate 入站信封 → 指令
//
// 只翻譯可識別且載荷完整的 opcode；其餘一律忽略。任何業務處理
// 都不在這裡發生——連接任務只投遞，從不觸碰共享狀態。
func (c *connection) translate(env Envelope) (Command, bool) {
	addr := c.session.Addr

	switch env.Opcode {
	case OpMarkPosition:
		if env.D == nil || env.D.Position == nil {
			return Command{}, false
		}
		return Command{Kind: CmdMarkPosition, Addr: addr, Position: *env.D.Position}, true

	case OpJoinRoom:
		if env.D == nil || env.D.RoomID == nil {
			return Command{}, false
		}
		return Command{
			Kind:       CmdJoinRoom,
			Addr:       addr,
			PlayerName: env.D.PlayerName,
			RoomID:     *env.D.RoomID,
			RoomCode:   env.D.RoomCode,
		}, true

	case OpCreateRoom:
		if env.D == nil || env.D.Public == nil {
			return Command{}, false
		}
		return Command{
			Kind:       CmdCreateRoom,
			Addr:       addr,
			PlayerName: env.D.PlayerName,
			Public:     *env.D.Public,
		}, true

	case OpDeleteRoom:
		if env.D == nil || env.D.ID == nil {
			return Command{}, false
		}
		return Command{Kind: CmdDeleteRoom, Addr: addr, RoomID: *env.D.ID}, true

	case OpListRooms:
		return Command{Kind: CmdListRooms, Addr: addr}, true

	case OpLeave:
		return Command{Kind: CmdLeaveRoom, Addr: addr}, true

	case OpPlayAgain:
		return Command{Kind: CmdPlayAgain, Addr: addr}, true

	default:
		return Command{}, false
	}
}

// writeLoop 出站消息 + 心跳
//
// 三類出站事件：
//   - 內部關閉信號（opcode 8）：發送關閉幀後終止任務
//   - 內部 ping 信號（opcode 9）：發送傳輸層 ping
//   - 普通信封：序列化後寫入 socket
//
// 心跳節拍：窗口內沒有收到 pong 即終止任務（存活失敗屬於正常
// 生命週期，不是對任何用戶可見的錯誤）；否則發送傳輸層 ping。
// 退出時關閉底層連接，使阻塞中的讀循環解除。
func (c *connection) writeLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case env := <-c.session.Outbound():
			switch env.Opcode {
			case OpClose:
				deadline := time.Now().Add(time.Second)
				if err := c.conn.SetWriteDeadline(deadline); err == nil {
					_ = c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				}
				return nil

			case OpPing:
				if err := c.writeControl(websocket.PingMessage); err != nil {
					return err
				}

			default:
				data, err := json.Marshal(env)
				if err != nil {
					c.logger.Error("序列化出站消息失敗", "addr", c.session.Addr, "error", err)
					continue
				}
				if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
					return err
				}
				if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
					return err
				}
			}

		case <-ticker.C:
			if c.session.HeartbeatExpired(c.heartbeatWindow) {
				c.logger.Info("心跳超時，斷開連接", "addr", c.session.Addr)
				return nil
			}
			if err := c.writeControl(websocket.PingMessage); err != nil {
				return err
			}
		}
	}
}

// writeControl 發送控制幀
func (c *connection) writeControl(messageType int) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, nil)
}
