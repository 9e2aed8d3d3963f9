package contract

// FeeVaultABI is the ABI of the FeeVault contract (premium lootboxes and epoch rewards).
const FeeVaultABI = `[
	{"type": "function", "name": "quotePremiumPurchase", "stateMutability": "view",
	 "inputs": [{"name": "characterId", "type": "uint256"}, {"name": "difficulty", "type": "uint8"}, {"name": "amount", "type": "uint16"}],
	 "outputs": [{"name": "ethCost", "type": "uint256"}, {"name": "mmoCost", "type": "uint256"}]},
	{"type": "function", "name": "buyPremiumLootboxes", "stateMutability": "payable",
	 "inputs": [{"name": "characterId", "type": "uint256"}, {"name": "difficulty", "type": "uint8"}, {"name": "amount", "type": "uint16"}],
	 "outputs": []},
	{"type": "function", "name": "finalizeEpoch", "stateMutability": "nonpayable",
	 "inputs": [{"name": "epochId", "type": "uint32"}], "outputs": []},
	{"type": "function", "name": "claimPlayer", "stateMutability": "nonpayable",
	 "inputs": [{"name": "epochId", "type": "uint32"}, {"name": "characterId", "type": "uint256"}],
	 "outputs": [{"name": "amount", "type": "uint256"}]},
	{"type": "function", "name": "claimDeployer", "stateMutability": "nonpayable",
	 "inputs": [{"name": "epochId", "type": "uint32"}], "outputs": [{"name": "amount", "type": "uint256"}]},
	{"type": "function", "name": "epochSnapshot", "stateMutability": "view",
	 "inputs": [{"name": "epochId", "type": "uint32"}],
	 "outputs": [
		{"name": "feesForPlayers", "type": "uint256"}, {"name": "feesForDeployer", "type": "uint256"},
		{"name": "cutoffLevel", "type": "uint32"}, {"name": "totalEligibleWeight", "type": "uint256"}, {"name": "finalized", "type": "bool"}]},
	{"type": "function", "name": "playerClaimed", "stateMutability": "view",
	 "inputs": [{"name": "epochId", "type": "uint32"}, {"name": "characterId", "type": "uint256"}], "outputs": [{"name": "", "type": "bool"}]},
	{"type": "function", "name": "deployerClaimed", "stateMutability": "view",
	 "inputs": [{"name": "epochId", "type": "uint32"}], "outputs": [{"name": "", "type": "bool"}]},
	{"type": "event", "name": "EpochFinalized", "anonymous": false,
	 "inputs": [
		{"name": "epochId", "type": "uint32", "indexed": true}, {"name": "cutoffLevel", "type": "uint32", "indexed": false},
		{"name": "feesForPlayers", "type": "uint256", "indexed": false}, {"name": "feesForDeployer", "type": "uint256", "indexed": false},
		{"name": "totalEligibleWeight", "type": "uint256", "indexed": false}]},
	{"type": "event", "name": "PlayerClaimed", "anonymous": false,
	 "inputs": [
		{"name": "epochId", "type": "uint32", "indexed": true}, {"name": "characterId", "type": "uint256", "indexed": true},
		{"name": "owner", "type": "address", "indexed": true}, {"name": "amount", "type": "uint256", "indexed": false}]},
	{"type": "event", "name": "DeployerClaimed", "anonymous": false,
	 "inputs": [
		{"name": "epochId", "type": "uint32", "indexed": true}, {"name": "deployer", "type": "address", "indexed": true},
		{"name": "amount", "type": "uint256", "indexed": false}]}
]`

// ItemsABI is the ABI of the ERC721 Items contract.
const ItemsABI = `[
	{"type": "function", "name": "ownerOf", "stateMutability": "view",
	 "inputs": [{"name": "tokenId", "type": "uint256"}], "outputs": [{"name": "", "type": "address"}]},
	{"type": "function", "name": "balanceOf", "stateMutability": "view",
	 "inputs": [{"name": "owner", "type": "address"}], "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "tokenOfOwnerByIndex", "stateMutability": "view",
	 "inputs": [{"name": "owner", "type": "address"}, {"name": "index", "type": "uint256"}], "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "isApprovedForAll", "stateMutability": "view",
	 "inputs": [{"name": "owner", "type": "address"}, {"name": "operator", "type": "address"}], "outputs": [{"name": "", "type": "bool"}]},
	{"type": "function", "name": "setApprovalForAll", "stateMutability": "nonpayable",
	 "inputs": [{"name": "operator", "type": "address"}, {"name": "approved", "type": "bool"}], "outputs": []},
	{"type": "function", "name": "decode", "stateMutability": "view",
	 "inputs": [{"name": "tokenId", "type": "uint256"}],
	 "outputs": [{"name": "slot", "type": "uint8"}, {"name": "tier", "type": "uint32"}, {"name": "seed", "type": "uint64"}]},
	{"type": "function", "name": "deriveBonuses", "stateMutability": "view",
	 "inputs": [{"name": "tokenId", "type": "uint256"}],
	 "outputs": [
		{"name": "hp", "type": "uint32"}, {"name": "mana", "type": "uint32"}, {"name": "def", "type": "uint32"},
		{"name": "atkM", "type": "uint32"}, {"name": "atkR", "type": "uint32"}]},
	{"type": "event", "name": "ItemMinted", "anonymous": false,
	 "inputs": [
		{"name": "tokenId", "type": "uint256", "indexed": true}, {"name": "to", "type": "address", "indexed": true},
		{"name": "slot", "type": "uint8", "indexed": true}, {"name": "tier", "type": "uint32", "indexed": false},
		{"name": "seed", "type": "uint64", "indexed": false}, {"name": "varianceMode", "type": "uint8", "indexed": false},
		{"name": "isSet", "type": "bool", "indexed": false}, {"name": "setId", "type": "uint8", "indexed": false}]},
	{"type": "event", "name": "ItemSeedRewritten", "anonymous": false,
	 "inputs": [
		{"name": "tokenId", "type": "uint256", "indexed": true}, {"name": "oldSeed", "type": "uint64", "indexed": false},
		{"name": "newSeed", "type": "uint64", "indexed": false}]}
]`

// RFQMarketABI is the ABI of the RFQ market contract.
const RFQMarketABI = `[
	{"type": "function", "name": "createFee", "stateMutability": "view",
	 "inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "maxTtl", "stateMutability": "view",
	 "inputs": [], "outputs": [{"name": "", "type": "uint40"}]},
	{"type": "function", "name": "createRFQ", "stateMutability": "payable",
	 "inputs": [
		{"name": "slot", "type": "uint8"}, {"name": "minTier", "type": "uint32"}, {"name": "acceptableSetMask", "type": "uint256"},
		{"name": "mmoOffered", "type": "uint96"}, {"name": "expiry", "type": "uint40"}],
	 "outputs": [{"name": "rfqId", "type": "uint256"}]},
	{"type": "function", "name": "fillRFQ", "stateMutability": "nonpayable",
	 "inputs": [{"name": "rfqId", "type": "uint256"}, {"name": "itemTokenId", "type": "uint256"}], "outputs": []},
	{"type": "function", "name": "cancelRFQ", "stateMutability": "nonpayable",
	 "inputs": [{"name": "rfqId", "type": "uint256"}], "outputs": []},
	{"type": "function", "name": "rfqs", "stateMutability": "view",
	 "inputs": [{"name": "rfqId", "type": "uint256"}],
	 "outputs": [
		{"name": "maker", "type": "address"}, {"name": "mmoOffered", "type": "uint96"}, {"name": "minTier", "type": "uint32"},
		{"name": "expiry", "type": "uint40"}, {"name": "slot", "type": "uint8"}, {"name": "active", "type": "bool"},
		{"name": "filled", "type": "bool"}, {"name": "setMask", "type": "uint256"}]},
	{"type": "event", "name": "RFQCreated", "anonymous": false,
	 "inputs": [
		{"name": "rfqId", "type": "uint256", "indexed": true}, {"name": "maker", "type": "address", "indexed": true},
		{"name": "slot", "type": "uint8", "indexed": false}, {"name": "minTier", "type": "uint32", "indexed": false},
		{"name": "setMask", "type": "uint256", "indexed": false}, {"name": "mmoOffered", "type": "uint96", "indexed": false},
		{"name": "expiry", "type": "uint40", "indexed": false}]},
	{"type": "event", "name": "RFQFilled", "anonymous": false,
	 "inputs": [
		{"name": "rfqId", "type": "uint256", "indexed": true}, {"name": "maker", "type": "address", "indexed": true},
		{"name": "taker", "type": "address", "indexed": true}, {"name": "itemTokenId", "type": "uint256", "indexed": false}]},
	{"type": "event", "name": "RFQCancelled", "anonymous": false,
	 "inputs": [{"name": "rfqId", "type": "uint256", "indexed": true}]}
]`

// TradeEscrowABI is the ABI of the item trade escrow contract.
const TradeEscrowABI = `[
	{"type": "function", "name": "createFee", "stateMutability": "view",
	 "inputs": [], "outputs": [{"name": "", "type": "uint256"}]},
	{"type": "function", "name": "offerTtl", "stateMutability": "view",
	 "inputs": [], "outputs": [{"name": "", "type": "uint40"}]},
	{"type": "function", "name": "createOffer", "stateMutability": "payable",
	 "inputs": [
		{"name": "offeredItemIds", "type": "uint256[]"}, {"name": "requestedItemIds", "type": "uint256[]"},
		{"name": "requestedMmo", "type": "uint96"}],
	 "outputs": [{"name": "offerId", "type": "uint256"}]},
	{"type": "function", "name": "cancelOffer", "stateMutability": "nonpayable",
	 "inputs": [{"name": "offerId", "type": "uint256"}], "outputs": []},
	{"type": "function", "name": "fulfillOffer", "stateMutability": "nonpayable",
	 "inputs": [{"name": "offerId", "type": "uint256"}], "outputs": []},
	{"type": "function", "name": "cancelExpiredOffer", "stateMutability": "nonpayable",
	 "inputs": [{"name": "offerId", "type": "uint256"}], "outputs": []},
	{"type": "function", "name": "offers", "stateMutability": "view",
	 "inputs": [{"name": "offerId", "type": "uint256"}],
	 "outputs": [
		{"name": "maker", "type": "address"}, {"name": "requestedMmo", "type": "uint96"},
		{"name": "expiry", "type": "uint40"}, {"name": "active", "type": "bool"}]},
	{"type": "event", "name": "OfferCreated", "anonymous": false,
	 "inputs": [
		{"name": "offerId", "type": "uint256", "indexed": true}, {"name": "maker", "type": "address", "indexed": true},
		{"name": "requestedMmo", "type": "uint96", "indexed": false}, {"name": "offeredItemIds", "type": "uint256[]", "indexed": false},
		{"name": "requestedItemIds", "type": "uint256[]", "indexed": false}]},
	{"type": "event", "name": "OfferCancelled", "anonymous": false,
	 "inputs": [{"name": "offerId", "type": "uint256", "indexed": true}, {"name": "maker", "type": "address", "indexed": true}]},
	{"type": "event", "name": "OfferFulfilled", "anonymous": false,
	 "inputs": [
		{"name": "offerId", "type": "uint256", "indexed": true}, {"name": "maker", "type": "address", "indexed": true},
		{"name": "taker", "type": "address", "indexed": true}]}
]`

// MMOTokenABI is the ERC20 subset used for MMO allowances.
const MMOTokenABI = `[
	{"constant": true, "inputs": [{"name": "_owner", "type": "address"}], "name": "balanceOf",
	 "outputs": [{"name": "balance", "type": "uint256"}], "type": "function"},
	{"constant": true, "inputs": [{"name": "_owner", "type": "address"}, {"name": "_spender", "type": "address"}], "name": "allowance",
	 "outputs": [{"name": "", "type": "uint256"}], "type": "function"},
	{"constant": false, "inputs": [{"name": "_spender", "type": "address"}, {"name": "_value", "type": "uint256"}], "name": "approve",
	 "outputs": [{"name": "", "type": "bool"}], "type": "function"}
]`
