// Package contract provides ABI bindings and log decoding for the ChainMMO contracts.
package contract

// GameWorldABI is the ABI of the GameWorld contract.
// Only the entries read or written by the indexer and the action engine are listed.
const GameWorldABI = `[
	{"type": "function", "name": "createCharacter", "stateMutability": "nonpayable",
	 "inputs": [{"name": "race", "type": "uint8"}, {"name": "classType", "type": "uint8"}, {"name": "name", "type": "string"}],
	 "outputs": [{"name": "characterId", "type": "uint256"}]},
	{"type": "function", "name": "claimFreeLootbox", "stateMutability": "nonpayable",
	 "inputs": [{"name": "characterId", "type": "uint256"}], "outputs": []},
	{"type": "function", "name": "commitActionWithVariance", "stateMutability": "payable",
	 "inputs": [
		{"name": "characterId", "type": "uint256"}, {"name": "actionType", "type": "uint8"},
		{"name": "commitHash", "type": "bytes32"}, {"name": "nonce", "type": "uint64"}, {"name": "varianceMode", "type": "uint8"}],
	 "outputs": [{"name": "commitId", "type": "uint256"}]},
	{"type": "function", "name": "commitFee", "stateMutability": "view",
	 "inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "nextCommitId", "stateMutability": "view",
	 "inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "hashLootboxOpen", "stateMutability": "pure",
	 "inputs": [
		{"name": "secret", "type": "bytes32"}, {"name": "actor", "type": "address"}, {"name": "characterId", "type": "uint256"},
		{"name": "nonce", "type": "uint64"}, {"name": "tier", "type": "uint32"}, {"name": "amount", "type": "uint16"},
		{"name": "varianceMode", "type": "uint8"}, {"name": "maxMode", "type": "bool"}],
	 "outputs": [{"name": "hash", "type": "bytes32"}]},
	{"type": "function", "name": "hashDungeonRun", "stateMutability": "pure",
	 "inputs": [
		{"name": "secret", "type": "bytes32"}, {"name": "actor", "type": "address"}, {"name": "characterId", "type": "uint256"},
		{"name": "nonce", "type": "uint64"}, {"name": "difficulty", "type": "uint8"}, {"name": "dungeonLevel", "type": "uint32"},
		{"name": "varianceMode", "type": "uint8"}],
	 "outputs": [{"name": "hash", "type": "bytes32"}]},
	{"type": "function", "name": "revealStartDungeon", "stateMutability": "nonpayable",
	 "inputs": [
		{"name": "commitId", "type": "uint256"}, {"name": "secret", "type": "bytes32"}, {"name": "difficulty", "type": "uint8"},
		{"name": "dungeonLevel", "type": "uint32"}, {"name": "varianceMode", "type": "uint8"}],
	 "outputs": []},
	{"type": "function", "name": "revealOpenLootboxesMax", "stateMutability": "nonpayable",
	 "inputs": [
		{"name": "commitId", "type": "uint256"}, {"name": "secret", "type": "bytes32"}, {"name": "tier", "type": "uint32"},
		{"name": "maxAmount", "type": "uint16"}, {"name": "varianceMode", "type": "uint8"}],
	 "outputs": [{"name": "openedAmount", "type": "uint16"}]},
	{"type": "function", "name": "cancelExpired", "stateMutability": "nonpayable",
	 "inputs": [{"name": "commitId", "type": "uint256"}], "outputs": []},
	{"type": "function", "name": "revealWindow", "stateMutability": "view",
	 "inputs": [{"name": "commitId", "type": "uint256"}],
	 "outputs": [
		{"name": "startBlock", "type": "uint64"}, {"name": "endBlock", "type": "uint64"}, {"name": "canReveal", "type": "bool"},
		{"name": "expired", "type": "bool"}, {"name": "resolved", "type": "bool"}]},
	{"type": "function", "name": "commits", "stateMutability": "view",
	 "inputs": [{"name": "commitId", "type": "uint256"}],
	 "outputs": [
		{"name": "actor", "type": "address"}, {"name": "characterId", "type": "uint256"}, {"name": "actionType", "type": "uint8"},
		{"name": "commitHash", "type": "bytes32"}, {"name": "nonce", "type": "uint64"}, {"name": "commitBlock", "type": "uint64"},
		{"name": "varianceMode", "type": "uint8"}, {"name": "resolved", "type": "bool"}]},
	{"type": "function", "name": "quoteOpenLootboxes", "stateMutability": "view",
	 "inputs": [
		{"name": "characterId", "type": "uint256"}, {"name": "tier", "type": "uint32"},
		{"name": "requestedAmount", "type": "uint16"}, {"name": "varianceMode", "type": "uint8"}],
	 "outputs": [
		{"name": "availableTotal", "type": "uint32"}, {"name": "availableBound", "type": "uint32"},
		{"name": "availableGeneric", "type": "uint32"}, {"name": "openableAmount", "type": "uint16"}]},
	{"type": "function", "name": "getRunState", "stateMutability": "view",
	 "inputs": [{"name": "characterId", "type": "uint256"}],
	 "outputs": [
		{"name": "active", "type": "bool"}, {"name": "roomCount", "type": "uint8"}, {"name": "roomsCleared", "type": "uint8"},
		{"name": "currentHp", "type": "uint32"}, {"name": "currentMana", "type": "uint32"}, {"name": "hpPotionCharges", "type": "uint8"},
		{"name": "manaPotionCharges", "type": "uint8"}, {"name": "powerPotionCharges", "type": "uint8"},
		{"name": "dungeonLevel", "type": "uint32"}, {"name": "difficulty", "type": "uint8"}]},
	{"type": "function", "name": "resolveNextRoom", "stateMutability": "nonpayable",
	 "inputs": [{"name": "characterId", "type": "uint256"}, {"name": "potionChoice", "type": "uint8"}, {"name": "abilityChoice", "type": "uint8"}],
	 "outputs": []},
	{"type": "function", "name": "resolveRooms", "stateMutability": "nonpayable",
	 "inputs": [{"name": "characterId", "type": "uint256"}, {"name": "potionChoices", "type": "uint8[]"}, {"name": "abilityChoices", "type": "uint8[]"}],
	 "outputs": [{"name": "resolvedCount", "type": "uint8"}, {"name": "runStillActive", "type": "bool"}]},
	{"type": "function", "name": "equipItems", "stateMutability": "nonpayable",
	 "inputs": [{"name": "characterId", "type": "uint256"}, {"name": "itemIds", "type": "uint256[]"}], "outputs": []},
	{"type": "function", "name": "rerollItemStats", "stateMutability": "nonpayable",
	 "inputs": [{"name": "characterId", "type": "uint256"}, {"name": "itemTokenId", "type": "uint256"}],
	 "outputs": [{"name": "newNonce", "type": "uint32"}]},
	{"type": "function", "name": "forgeSetPiece", "stateMutability": "nonpayable",
	 "inputs": [{"name": "characterId", "type": "uint256"}, {"name": "itemTokenId", "type": "uint256"}, {"name": "targetSetId", "type": "uint8"}],
	 "outputs": [{"name": "newSeed", "type": "uint64"}]},
	{"type": "function", "name": "ownerOfCharacter", "stateMutability": "view",
	 "inputs": [{"name": "characterId", "type": "uint256"}], "outputs": [{"name": "", "type": "address"}]},
	{"type": "function", "name": "characterBestLevel", "stateMutability": "view",
	 "inputs": [{"name": "characterId", "type": "uint256"}], "outputs": [{"name": "", "type": "uint32"}]},
	{"type": "function", "name": "characterLastLevelUpEpoch", "stateMutability": "view",
	 "inputs": [{"name": "characterId", "type": "uint256"}], "outputs": [{"name": "", "type": "uint32"}]},
	{"type": "function", "name": "lootboxCredits", "stateMutability": "view",
	 "inputs": [{"name": "characterId", "type": "uint256"}, {"name": "tier", "type": "uint32"}], "outputs": [{"name": "", "type": "uint32"}]},
	{"type": "function", "name": "lootboxBoundCredits", "stateMutability": "view",
	 "inputs": [{"name": "characterId", "type": "uint256"}, {"name": "tier", "type": "uint32"}, {"name": "varianceMode", "type": "uint8"}],
	 "outputs": [{"name": "", "type": "uint32"}]},
	{"type": "function", "name": "upgradeStoneBalance", "stateMutability": "view",
	 "inputs": [{"name": "characterId", "type": "uint256"}], "outputs": [{"name": "", "type": "uint32"}]},
	{"type": "function", "name": "equippedSlotCount", "stateMutability": "view",
	 "inputs": [{"name": "characterId", "type": "uint256"}], "outputs": [{"name": "", "type": "uint8"}]},
	{"type": "function", "name": "requiredEquippedSlots", "stateMutability": "pure",
	 "inputs": [{"name": "dungeonLevel", "type": "uint32"}], "outputs": [{"name": "", "type": "uint8"}]},
	{"type": "event", "name": "ActionCommitted", "anonymous": false,
	 "inputs": [
		{"name": "commitId", "type": "uint256", "indexed": true}, {"name": "characterId", "type": "uint256", "indexed": true},
		{"name": "actor", "type": "address", "indexed": true}, {"name": "actionType", "type": "uint8", "indexed": false},
		{"name": "varianceMode", "type": "uint8", "indexed": false}, {"name": "commitBlock", "type": "uint64", "indexed": false}]},
	{"type": "event", "name": "ActionExpired", "anonymous": false,
	 "inputs": [
		{"name": "commitId", "type": "uint256", "indexed": true}, {"name": "characterId", "type": "uint256", "indexed": true},
		{"name": "actionType", "type": "uint8", "indexed": false}]},
	{"type": "event", "name": "CharacterCreated", "anonymous": false,
	 "inputs": [
		{"name": "characterId", "type": "uint256", "indexed": true}, {"name": "owner", "type": "address", "indexed": true},
		{"name": "race", "type": "uint8", "indexed": true}, {"name": "classType", "type": "uint8", "indexed": false},
		{"name": "name", "type": "string", "indexed": false}]},
	{"type": "event", "name": "CharacterLevelUpdated", "anonymous": false,
	 "inputs": [
		{"name": "characterId", "type": "uint256", "indexed": true}, {"name": "oldLevel", "type": "uint32", "indexed": false},
		{"name": "newLevel", "type": "uint32", "indexed": false}, {"name": "lastLevelUpEpoch", "type": "uint32", "indexed": false}]},
	{"type": "event", "name": "LootboxCredited", "anonymous": false,
	 "inputs": [
		{"name": "characterId", "type": "uint256", "indexed": true}, {"name": "tier", "type": "uint32", "indexed": true},
		{"name": "amount", "type": "uint32", "indexed": false}]},
	{"type": "event", "name": "LootboxOpened", "anonymous": false,
	 "inputs": [
		{"name": "characterId", "type": "uint256", "indexed": true}, {"name": "commitId", "type": "uint256", "indexed": true},
		{"name": "tier", "type": "uint32", "indexed": true}, {"name": "amount", "type": "uint16", "indexed": false},
		{"name": "varianceMode", "type": "uint8", "indexed": false}, {"name": "entropy", "type": "bytes32", "indexed": false}]},
	{"type": "event", "name": "LootboxOpenMaxResolved", "anonymous": false,
	 "inputs": [
		{"name": "characterId", "type": "uint256", "indexed": true}, {"name": "commitId", "type": "uint256", "indexed": true},
		{"name": "tier", "type": "uint32", "indexed": true}, {"name": "requestedAmount", "type": "uint16", "indexed": false},
		{"name": "openedAmount", "type": "uint16", "indexed": false}, {"name": "varianceMode", "type": "uint8", "indexed": false}]},
	{"type": "event", "name": "LootboxItemDropped", "anonymous": false,
	 "inputs": [
		{"name": "characterId", "type": "uint256", "indexed": true}, {"name": "commitId", "type": "uint256", "indexed": true},
		{"name": "itemId", "type": "uint256", "indexed": true}, {"name": "slot", "type": "uint8", "indexed": false},
		{"name": "itemTier", "type": "uint32", "indexed": false}, {"name": "seed", "type": "uint64", "indexed": false},
		{"name": "varianceMode", "type": "uint8", "indexed": false}]},
	{"type": "event", "name": "ItemEquipped", "anonymous": false,
	 "inputs": [
		{"name": "characterId", "type": "uint256", "indexed": true}, {"name": "itemId", "type": "uint256", "indexed": true},
		{"name": "slot", "type": "uint8", "indexed": true}]},
	{"type": "event", "name": "ItemRerolled", "anonymous": false,
	 "inputs": [
		{"name": "characterId", "type": "uint256", "indexed": true}, {"name": "itemTokenId", "type": "uint256", "indexed": true},
		{"name": "newNonce", "type": "uint32", "indexed": false}]},
	{"type": "event", "name": "SetPieceForged", "anonymous": false,
	 "inputs": [
		{"name": "characterId", "type": "uint256", "indexed": true}, {"name": "itemTokenId", "type": "uint256", "indexed": true},
		{"name": "targetSetId", "type": "uint8", "indexed": true}, {"name": "stonesSpent", "type": "uint8", "indexed": false},
		{"name": "mmoSpent", "type": "uint256", "indexed": false}, {"name": "newSeed", "type": "uint64", "indexed": false}]},
	{"type": "event", "name": "DungeonStarted", "anonymous": false,
	 "inputs": [
		{"name": "characterId", "type": "uint256", "indexed": true}, {"name": "commitId", "type": "uint256", "indexed": true},
		{"name": "dungeonLevel", "type": "uint32", "indexed": false}, {"name": "difficulty", "type": "uint8", "indexed": false},
		{"name": "varianceMode", "type": "uint8", "indexed": false}, {"name": "roomCount", "type": "uint8", "indexed": false}]},
	{"type": "event", "name": "DungeonRoomResolved", "anonymous": false,
	 "inputs": [
		{"name": "characterId", "type": "uint256", "indexed": true}, {"name": "roomIndex", "type": "uint8", "indexed": true},
		{"name": "boss", "type": "bool", "indexed": false}, {"name": "success", "type": "bool", "indexed": false},
		{"name": "hpAfter", "type": "uint32", "indexed": false}, {"name": "manaAfter", "type": "uint32", "indexed": false}]},
	{"type": "event", "name": "DungeonFinished", "anonymous": false,
	 "inputs": [
		{"name": "characterId", "type": "uint256", "indexed": true}, {"name": "dungeonLevel", "type": "uint32", "indexed": true},
		{"name": "success", "type": "bool", "indexed": false}, {"name": "roomsCleared", "type": "uint8", "indexed": false},
		{"name": "roomCount", "type": "uint8", "indexed": false}]},
	{"type": "event", "name": "UpgradeStoneGranted", "anonymous": false,
	 "inputs": [
		{"name": "characterId", "type": "uint256", "indexed": true}, {"name": "amount", "type": "uint32", "indexed": false},
		{"name": "reason", "type": "uint8", "indexed": false}]}
]`

// Commit action types accepted by commitActionWithVariance.
const (
	ActionTypeLootboxOpen uint8 = 1
	ActionTypeDungeonRun  uint8 = 2
)

// Reveal window bounds relative to the commit block.
const (
	RevealDelayBlocks  uint64 = 2
	RevealExpiryBlocks uint64 = 256
)
