// Package internal 實現了一個即時多人匹配與回合制對局服務器。
//
// 許多客戶端經 WebSocket 併發連入；服務器把他們配對進房間、轉發
// 回合制落子、判定勝負與平局，並驅逐失活或斷線的玩家——共享狀態
// （房間、等待中的會話）全程無鎖且無數據競爭。
//
// # 指令串行化
//
// 併發架構的核心是單消費者指令循環（actor 模式）：
//   - 每個連接一個任務，只把入站事件翻譯成指令投遞進共享隊列
//   - 唯一的指令處理器依次消費，是 rooms 與等待隊列的唯一改動者
//   - 一條指令總是處理到完成才取下一條，天然給出 happens-before
//   - 廣播是循環內的顯式迭代，從不併發扇出
//
// # 連接生命週期
//
// 每條連接運行讀循環與寫循環，由 errgroup 聯結：
//   - 讀循環：幀 → 信封 → 指令；協議層 pong 刷新心跳時間戳
//   - 寫循環：私有出站通道 → 幀；持有 20 秒心跳節拍器，45 秒
//     存活窗口內無 pong 即斷開
//   - 任一循環退出即取消另一個；兩者都結束後發出 RemoveUser，
//     這是連接任務唯一的正常終止路徑
//
// # 房間與對局
//
// 房間持有兩個獨立可空的座位與一個線性 9 格棋盤：
//   - 匹配：加入時優先填補空座；私人房間憑 5 位加入碼進入
//   - 對局：輪流落子，每次成功落子後依序檢查勝利與平局
//   - 結束：雙方收到結束事件後房間原地重置，保留座位以便再戰
//   - 驅逐：清掃循環對落子逾時的一方發出關閉信號，座位釋放
//     統一繞行連接任務的正常移除路徑
//
// # 線上協議
//
// 所有消息共用信封 {"opcode": N, "d": payload}，載荷形狀由 opcode
// 隱含。領域錯誤（非法落子、輪次錯誤、格子佔用）以 opcode 1007
// 僅回報給出錯的會話，從不影響其他房間。
//
// # 啟動
//
//	engine := internal.NewEngine(logger)
//	engine.Start()
//	gateway := internal.NewGateway(engine, logger)
//	handler := internal.NewHandler(engine, logger)
//
//	mux := http.NewServeMux()
//	mux.Handle("/", handler.Routes())
//	mux.HandleFunc("/ws", gateway.ServeWS)
//	log.Fatal(http.ListenAndServe(config.Addr(), mux))
package internal
