package internal

// CommandKind 指令類型標籤
type CommandKind int

const (
	// CmdConnect 新連接的會話註冊進等待隊列
	CmdConnect CommandKind = iota
	// CmdJoinRoom 按 id（與可選加入碼）加入房間
	CmdJoinRoom
	// CmdCreateRoom 創建房間並入座為玩家一
	CmdCreateRoom
	// CmdMarkPosition 標記棋盤位置
	CmdMarkPosition
	// CmdPlayAgain 再來一局
	CmdPlayAgain
	// CmdDeleteRoom 刪除房間（僅房主）
	CmdDeleteRoom
	// CmdListRooms 請求房間列表
	CmdListRooms
	// CmdLeaveRoom 離開房間回到等待隊列
	CmdLeaveRoom
	// CmdRemoveUser 連接已斷開，移除該地址
	CmdRemoveUser
)

// Command 一條進入指令隊列的請求
//
// 由連接任務構造、由指令處理器恰好消費一次後丟棄。Addr 標識發起方；
// 其餘欄位按 Kind 填寫。Session 只在 CmdConnect 時攜帶——這是會話
// 對象唯一一次跨任務移動，之後的所有權完全歸指令處理器。
type Command struct {
	Kind CommandKind
	Addr string

	// CmdConnect
	Session *Session
	// CmdJoinRoom / CmdCreateRoom
	PlayerName string
	// CmdJoinRoom：加入碼，nil 表示未提供（與空字符串不同）
	RoomCode *string
	// CmdJoinRoom / CmdDeleteRoom
	RoomID int
	// CmdCreateRoom
	Public bool
	// CmdMarkPosition
	Position int
}
