package internal

import "encoding/json"

// 系統設計問題：
//   如何用一個整數判別碼描述所有客戶端與服務器之間的消息？
//
// 核心挑戰：
//   1. 單一信封：所有消息共用 {"opcode": N, "d": payload} 結構
//   2. 載荷形狀由 opcode 隱含：解碼端不需要額外的類型欄位
//   3. 可選載荷：控制類消息（關閉、心跳、離開）不攜帶 d
//
// 設計方案：
//   ✅ Envelope 結構 - opcode + 可選 EventData
//   ✅ EventData 扁平結構 - 以指針欄位表達「缺席」，omitempty 保持線上格式緊湊
//   ✅ 構造函數 - 每種事件一個輔助函數，避免手寫載荷出錯

// Opcode 消息判別碼
type Opcode uint16

const (
	// OpClose 關閉連接（雙向；也作為內部關閉信號在出站通道上傳遞）
	OpClose Opcode = 8
	// OpPing 心跳（雙向；也作為內部「發送傳輸層 ping」信號）
	OpPing Opcode = 9
	// OpMarkPosition 標記棋盤位置（c→s）/ 對手落子廣播（s→c）
	OpMarkPosition Opcode = 10
	// OpEndRoom 對局結束：1=玩家一勝，2=玩家二勝，3=平局
	OpEndRoom Opcode = 11
	// OpJoinRoom 加入房間請求（c→s）
	OpJoinRoom Opcode = 12
	// OpJoined 入座通知：攜帶對方座位編號與名稱（s→c）
	OpJoined Opcode = 13
	// OpLeave 離開房間（c→s）/ 對手離開通知（s→c）
	OpLeave Opcode = 14
	// OpCreateRoom 創建房間（c→s）
	OpCreateRoom Opcode = 15
	// OpDeleteRoom 刪除房間（c→s，僅房主）
	OpDeleteRoom Opcode = 16
	// OpListRooms 請求房間列表（c→s）/ 列表回覆（s→c）
	OpListRooms Opcode = 17
	// OpRoomCreated 房間創建/更新廣播（s→c）
	OpRoomCreated Opcode = 18
	// OpRoomDeleted 房間刪除廣播（s→c）
	OpRoomDeleted Opcode = 19
	// OpPlayerLeft 玩家離開房間廣播（s→c）
	OpPlayerLeft Opcode = 20
	// OpOwnerCode 私人房間加入碼，僅發給創建者（s→c）
	OpOwnerCode Opcode = 21
	// OpPlayAgain 請求再來一局（c→s）
	OpPlayAgain Opcode = 22
	// OpError 領域錯誤：非法落子、輪次錯誤、格子已佔用（s→c）
	OpError Opcode = 1007
)

// Envelope 線上消息信封
//
// 所有序列化過網絡的對象都是 Envelope。載荷的形狀由 opcode 隱含，
// 控制類消息的 d 為 null 並在序列化時省略。
type Envelope struct {
	Opcode Opcode     `json:"opcode"`
	D      *EventData `json:"d,omitempty"`
}

// EventData 信封載荷
//
// 原始協議以 untagged union 表達載荷；Go 對應做法是單一扁平結構，
// 每個 opcode 只填寫自己需要的欄位，其餘保持零值並由 omitempty 省略。
// 指針欄位（Position、RoomCode、Public）區分「缺席」與「零值」——
// 例如 position 0 是合法落子，不能與「未提供」混淆。
type EventData struct {
	// opcode 10
	Position *int `json:"position,omitempty"`
	// opcode 11
	Status uint8 `json:"status,omitempty"`
	// opcode 12 / 15
	PlayerName string  `json:"player_name,omitempty"`
	RoomID     *int    `json:"room_id,omitempty"`
	RoomCode   *string `json:"room_code,omitempty"`
	Public     *bool   `json:"public,omitempty"`
	// opcode 13 / 16 / 18 / 19 / 20
	ID            *int  `json:"id,omitempty"`
	PlayersAmount uint8 `json:"players_amount,omitempty"`
	// opcode 17
	Parties []EventData `json:"parties,omitempty"`
	// opcode 21
	Code string `json:"code,omitempty"`
	// opcode 1007
	Message string `json:"message,omitempty"`
}

// NewEnvelope 構造帶載荷的信封
func NewEnvelope(opcode Opcode, d *EventData) Envelope {
	return Envelope{Opcode: opcode, D: d}
}

// CloseEnvelope 內部關閉信號（出站通道上 opcode 8）
func CloseEnvelope() Envelope {
	return Envelope{Opcode: OpClose}
}

// PingEnvelope 內部「發送傳輸層 ping」信號（出站通道上 opcode 9）
func PingEnvelope() Envelope {
	return Envelope{Opcode: OpPing}
}

// JoinedEnvelope 入座通知：id 與 name 描述「對方」玩家
func JoinedEnvelope(seatID int, name string) Envelope {
	return Envelope{Opcode: OpJoined, D: &EventData{ID: &seatID, PlayerName: name}}
}

// MoveEnvelope 對手落子廣播
func MoveEnvelope(position int) Envelope {
	return Envelope{Opcode: OpMarkPosition, D: &EventData{Position: &position}}
}

// EndRoomEnvelope 對局結束事件
func EndRoomEnvelope(status uint8) Envelope {
	return Envelope{Opcode: OpEndRoom, D: &EventData{Status: status}}
}

// ErrorEnvelope 領域錯誤回報（僅發給出錯的會話）
func ErrorEnvelope(err error) Envelope {
	return Envelope{Opcode: OpError, D: &EventData{Message: err.Error()}}
}

// RoomCreatedEnvelope 房間創建/更新廣播；同樣的載荷形狀用於列表條目
func RoomCreatedEnvelope(id int, playerName string, playersAmount uint8, public bool) Envelope {
	return Envelope{Opcode: OpRoomCreated, D: &EventData{
		ID:            &id,
		PlayerName:    playerName,
		PlayersAmount: playersAmount,
		Public:        &public,
	}}
}

// RoomDeletedEnvelope 房間刪除廣播
func RoomDeletedEnvelope(id int) Envelope {
	return Envelope{Opcode: OpRoomDeleted, D: &EventData{ID: &id}}
}

// PlayerLeftEnvelope 玩家離開房間廣播
func PlayerLeftEnvelope(roomID int) Envelope {
	return Envelope{Opcode: OpPlayerLeft, D: &EventData{ID: &roomID}}
}

// OwnerCodeEnvelope 私人房間加入碼
func OwnerCodeEnvelope(code string) Envelope {
	return Envelope{Opcode: OpOwnerCode, D: &EventData{Code: code}}
}

// ListRoomsEnvelope 房間列表回覆
func ListRoomsEnvelope(parties []EventData) Envelope {
	return Envelope{Opcode: OpListRooms, D: &EventData{Parties: parties}}
}

// DecodeEnvelope 解碼入站幀
//
// 無法解碼的幀屬於協議錯誤：調用方忽略該幀，連接保持打開。
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}
