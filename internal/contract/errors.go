package contract

import "github.com/ethereum/go-ethereum/crypto"

// GameErrorNames are the custom errors the ChainMMO contracts revert with.
var GameErrorNames = []string{
	"CharacterNotFound", "OnlyCharacterOwner", "RunNotActive", "RunAlreadyActive", "NotRunOwner",
	"RoomAlreadyResolved", "AbilityUnavailable", "InsufficientMana", "InsufficientLootboxCredits",
	"AmountZero", "BatchTooLarge", "ArrayLengthMismatch", "InvalidDungeonLevel", "InvalidDifficulty",
	"InvalidVarianceMode", "InvalidActionType", "InsufficientCommitFee", "InsufficientCreateFee",
	"InsufficientEth", "InvalidEpoch", "EpochAlreadyFinalized", "EpochNotFinalized", "AlreadyClaimed",
	"NotEligible", "OnlyDeployer", "OfferInactive", "OfferExpired", "OfferNotExpired", "NotOfferMaker",
	"InvalidOffer", "NotItemOwner", "RevealTooEarly", "RevealExpired", "InvalidActionForReveal",
	"InvalidCommit", "CommitNotExpired", "CommitResolved", "InvalidReveal", "RFQInactive", "RFQExpired",
	"RFQItemMismatch", "NotRFQMaker", "GearLockedDuringRun", "InsufficientUpgradeStones",
	"InsufficientEquippedSlots", "PotionUnavailable", "ItemNotEquipped",
}

func crypto4(signature string) [4]byte {
	var out [4]byte
	copy(out[:], crypto.Keccak256([]byte(signature))[:4])
	return out
}
