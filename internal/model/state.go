package model

// 物化表: 全部由链上事件派生, 可通过重置游标重建.
// 大整数 (uint256 金额, 物品 tokenId) 以十进制字符串存储到 numeric(78,0).

// Character 角色
type Character struct {
	CharacterID  int64  `gorm:"column:character_id;type:bigint;primaryKey;autoIncrement:false" json:"character_id"`
	Owner        string `gorm:"column:owner;type:varchar(42);index;not null" json:"owner"`
	Race         int    `gorm:"column:race;type:smallint;not null" json:"race"`
	ClassType    int    `gorm:"column:class_type;type:smallint;not null" json:"class_type"`
	Name         string `gorm:"column:name;type:varchar(64);not null" json:"name"`
	CreatedBlock int64  `gorm:"column:created_block;type:bigint;not null" json:"created_block"`
	UpdatedBlock int64  `gorm:"column:updated_block;type:bigint;not null" json:"updated_block"`
}

// TableName 返回表名
func (Character) TableName() string {
	return "characters"
}

// CharacterLevelState 角色等级
type CharacterLevelState struct {
	CharacterID      int64  `gorm:"column:character_id;type:bigint;primaryKey;autoIncrement:false" json:"character_id"`
	Owner            string `gorm:"column:owner;type:varchar(42);not null" json:"owner"`
	BestLevel        int64  `gorm:"column:best_level;type:bigint;index;not null" json:"best_level"`
	LastLevelUpEpoch int64  `gorm:"column:last_level_up_epoch;type:bigint;not null" json:"last_level_up_epoch"`
	UpdatedBlock     int64  `gorm:"column:updated_block;type:bigint;not null" json:"updated_block"`
}

// TableName 返回表名
func (CharacterLevelState) TableName() string {
	return "character_level_state"
}

// CharacterLootboxCredits 角色宝箱额度 (按 tier)
type CharacterLootboxCredits struct {
	CharacterID  int64 `gorm:"column:character_id;type:bigint;primaryKey" json:"character_id"`
	Tier         int64 `gorm:"column:tier;type:bigint;primaryKey" json:"tier"`
	TotalCredits int64 `gorm:"column:total_credits;type:bigint;not null" json:"total_credits"`
	Variance0    int64 `gorm:"column:variance_0;type:bigint;not null" json:"variance_0"`
	Variance1    int64 `gorm:"column:variance_1;type:bigint;not null" json:"variance_1"`
	Variance2    int64 `gorm:"column:variance_2;type:bigint;not null" json:"variance_2"`
	UpdatedBlock int64 `gorm:"column:updated_block;type:bigint;not null" json:"updated_block"`
}

// TableName 返回表名
func (CharacterLootboxCredits) TableName() string {
	return "character_lootbox_credits"
}

// CharacterEquipment 角色装备槽
type CharacterEquipment struct {
	CharacterID  int64  `gorm:"column:character_id;type:bigint;primaryKey" json:"character_id"`
	Slot         int    `gorm:"column:slot;type:smallint;primaryKey" json:"slot"`
	ItemID       string `gorm:"column:item_id;type:numeric(78,0);not null" json:"item_id"`
	UpdatedBlock int64  `gorm:"column:updated_block;type:bigint;not null" json:"updated_block"`
}

// TableName 返回表名
func (CharacterEquipment) TableName() string {
	return "character_equipment"
}

// CharacterUpgradeStoneState 强化石余额
type CharacterUpgradeStoneState struct {
	CharacterID  int64 `gorm:"column:character_id;type:bigint;primaryKey;autoIncrement:false" json:"character_id"`
	Balance      int64 `gorm:"column:balance;type:bigint;not null" json:"balance"`
	UpdatedBlock int64 `gorm:"column:updated_block;type:bigint;not null" json:"updated_block"`
}

// TableName 返回表名
func (CharacterUpgradeStoneState) TableName() string {
	return "character_upgrade_stone_state"
}

// LeaderboardEpochState 排行榜 epoch 结算状态
type LeaderboardEpochState struct {
	EpochID             int64  `gorm:"column:epoch_id;type:bigint;primaryKey;autoIncrement:false" json:"epoch_id"`
	Finalized           bool   `gorm:"column:finalized;type:boolean;not null" json:"finalized"`
	CutoffLevel         int64  `gorm:"column:cutoff_level;type:bigint;not null" json:"cutoff_level"`
	TotalEligibleWeight string `gorm:"column:total_eligible_weight;type:numeric(78,0);not null" json:"total_eligible_weight"`
	FeesForPlayers      string `gorm:"column:fees_for_players;type:numeric(78,0);not null" json:"fees_for_players"`
	FeesForDeployer     string `gorm:"column:fees_for_deployer;type:numeric(78,0);not null" json:"fees_for_deployer"`
	UpdatedBlock        int64  `gorm:"column:updated_block;type:bigint;not null" json:"updated_block"`
}

// TableName 返回表名
func (LeaderboardEpochState) TableName() string {
	return "leaderboard_epoch_state"
}

// LeaderboardClaimState 玩家领奖状态
type LeaderboardClaimState struct {
	EpochID      int64  `gorm:"column:epoch_id;type:bigint;primaryKey" json:"epoch_id"`
	CharacterID  int64  `gorm:"column:character_id;type:bigint;primaryKey" json:"character_id"`
	Claimed      bool   `gorm:"column:claimed;type:boolean;not null" json:"claimed"`
	Amount       string `gorm:"column:amount;type:numeric(78,0);not null" json:"amount"`
	TxHash       string `gorm:"column:tx_hash;type:varchar(66);not null" json:"tx_hash"`
	Owner        string `gorm:"column:owner;type:varchar(42);not null" json:"owner"`
	UpdatedBlock int64  `gorm:"column:updated_block;type:bigint;not null" json:"updated_block"`
}

// TableName 返回表名
func (LeaderboardClaimState) TableName() string {
	return "leaderboard_claim_state"
}

// RFQState 求购单
type RFQState struct {
	RFQID        int64  `gorm:"column:rfq_id;type:bigint;primaryKey;autoIncrement:false" json:"rfq_id"`
	Maker        string `gorm:"column:maker;type:varchar(42);not null;default:''" json:"maker"`
	Slot         int    `gorm:"column:slot;type:smallint;not null;default:0" json:"slot"`
	MinTier      int64  `gorm:"column:min_tier;type:bigint;not null;default:0" json:"min_tier"`
	SetMask      string `gorm:"column:set_mask;type:numeric(78,0);not null;default:0" json:"set_mask"`
	MMOOffered   string `gorm:"column:mmo_offered;type:numeric(78,0);not null;default:0" json:"mmo_offered"`
	Expiry       int64  `gorm:"column:expiry;type:bigint;not null;default:0" json:"expiry"`
	Active       bool   `gorm:"column:active;type:boolean;index;not null" json:"active"`
	Filled       bool   `gorm:"column:filled;type:boolean;not null;default:false" json:"filled"`
	UpdatedBlock int64  `gorm:"column:updated_block;type:bigint;not null" json:"updated_block"`
}

// TableName 返回表名
func (RFQState) TableName() string {
	return "rfq_state"
}

// TradeOfferState 交易挂单
type TradeOfferState struct {
	OfferID          int64  `gorm:"column:offer_id;type:bigint;primaryKey;autoIncrement:false" json:"offer_id"`
	Maker            string `gorm:"column:maker;type:varchar(42);not null;default:''" json:"maker"`
	RequestedMMO     string `gorm:"column:requested_mmo;type:numeric(78,0);not null;default:0" json:"requested_mmo"`
	OfferedItemIDs   string `gorm:"column:offered_item_ids;type:jsonb;not null;default:'[]'" json:"offered_item_ids"`   // JSON 数组
	RequestedItemIDs string `gorm:"column:requested_item_ids;type:jsonb;not null;default:'[]'" json:"requested_item_ids"` // JSON 数组
	Active           bool   `gorm:"column:active;type:boolean;index;not null" json:"active"`
	UpdatedBlock     int64  `gorm:"column:updated_block;type:bigint;not null" json:"updated_block"`
}

// TableName 返回表名
func (TradeOfferState) TableName() string {
	return "trade_offer_state"
}
