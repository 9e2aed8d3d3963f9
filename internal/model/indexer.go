package model

// IndexerCursor 索引游标 (每条流一行)
type IndexerCursor struct {
	Name                  string `gorm:"column:name;type:varchar(64);primaryKey" json:"name"`
	LastProcessedBlock    int64  `gorm:"column:last_processed_block;type:bigint;not null" json:"last_processed_block"`
	LastProcessedLogIndex int    `gorm:"column:last_processed_log_index;type:int;not null" json:"last_processed_log_index"`
	UpdatedAt             int64  `gorm:"column:updated_at;type:bigint;not null" json:"updated_at"`
}

// TableName 返回表名
func (IndexerCursor) TableName() string {
	return "indexer_cursor"
}

// ProcessedLog 已处理日志标记 (去重闸门)
type ProcessedLog struct {
	ChainID     int64  `gorm:"column:chain_id;type:bigint;primaryKey" json:"chain_id"`
	TxHash      string `gorm:"column:tx_hash;type:varchar(66);primaryKey" json:"tx_hash"`
	LogIndex    int    `gorm:"column:log_index;type:int;primaryKey" json:"log_index"`
	BlockNumber int64  `gorm:"column:block_number;type:bigint;index;not null" json:"block_number"`
	BlockHash   string `gorm:"column:block_hash;type:varchar(66);not null" json:"block_hash"`
	Address     string `gorm:"column:address;type:varchar(42);not null" json:"address"`
	Topic0      string `gorm:"column:topic0;type:varchar(66)" json:"topic0"`
	CreatedAt   int64  `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
}

// TableName 返回表名
func (ProcessedLog) TableName() string {
	return "processed_logs"
}

// CompactEventDelta 事件增量账本 (只追加)
type CompactEventDelta struct {
	ID          int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	ChainID     int64  `gorm:"column:chain_id;type:bigint;not null" json:"chain_id"`
	BlockNumber int64  `gorm:"column:block_number;type:bigint;index;not null" json:"block_number"`
	LogIndex    int    `gorm:"column:log_index;type:int;not null" json:"log_index"`
	TxHash      string `gorm:"column:tx_hash;type:varchar(66);not null" json:"tx_hash"`
	CharacterID *int64 `gorm:"column:character_id;type:bigint;index" json:"character_id"`
	Kind        string `gorm:"column:kind;type:varchar(64);not null" json:"kind"`
	Payload     string `gorm:"column:payload;type:jsonb;not null" json:"payload"` // JSON
	CreatedAt   int64  `gorm:"column:created_at;type:bigint;not null" json:"created_at"`
}

// TableName 返回表名
func (CompactEventDelta) TableName() string {
	return "compact_event_delta"
}

// IndexerStatus 索引器状态 (诊断用)
type IndexerStatus struct {
	ChainID            int64  `json:"chain_id"`
	CursorName         string `json:"cursor_name"`
	Running            bool   `json:"running"`
	CursorBlock        int64  `json:"cursor_block"`
	ChainHead          int64  `json:"chain_head"`
	SafeHead           int64  `json:"safe_head"`
	LagBlocks          int64  `json:"lag_blocks"`
	CursorUpdatedAt    int64  `json:"cursor_updated_at"`
	LastTickAt         int64  `json:"last_tick_at"`
	LastTickError      string `json:"last_tick_error,omitempty"`
	CurrentChunkBlocks uint64 `json:"current_chunk_blocks"`
}
