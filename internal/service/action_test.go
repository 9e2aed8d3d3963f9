package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bizerrors "github.com/stokasz/ChainMMO-Monad-sub000/pkg/errors"
)

func intPtr(v int) *int { return &v }

func TestParseAction_DecodesTypedPayload(t *testing.T) {
	action, err := ParseAction([]byte(`{"type":"start_dungeon","characterId":5,"difficulty":2,"dungeonLevel":3}`))
	require.NoError(t, err)

	sd, ok := action.(StartDungeon)
	require.True(t, ok)
	assert.Equal(t, int64(5), sd.CharacterID)
	assert.Equal(t, 2, sd.Difficulty)
	assert.Equal(t, int64(3), sd.DungeonLevel)
	assert.Nil(t, sd.VarianceMode)
	assert.Equal(t, "character:5", sd.ConflictKey())
}

func TestParseAction_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr *bizerrors.Error
	}{
		{"malformed json", `{"type":`, bizerrors.ErrInvalidAction},
		{"unknown type", `{"type":"teleport"}`, bizerrors.ErrInvalidActionType},
		{"race out of range", `{"type":"create_character","race":3,"classType":0,"name":"a"}`, bizerrors.ErrInvalidAction},
		{"empty name", `{"type":"create_character","race":0,"classType":0,"name":""}`, bizerrors.ErrInvalidAction},
		{"difficulty out of range", `{"type":"start_dungeon","characterId":1,"difficulty":5,"dungeonLevel":1}`, bizerrors.ErrInvalidAction},
		{"variance out of range", `{"type":"open_lootboxes_max","characterId":1,"tier":1,"maxAmount":1,"varianceMode":3}`, bizerrors.ErrInvalidAction},
		{"zero character", `{"type":"equip_best","characterId":0}`, bizerrors.ErrInvalidAction},
		{"batch length mismatch", `{"type":"next_room","characterId":1,"potionChoices":[0,1],"abilityChoices":[0]}`, bizerrors.ErrInvalidAction},
		{"no room choice", `{"type":"next_room","characterId":1}`, bizerrors.ErrInvalidAction},
		{"duplicate offered item", `{"type":"create_trade_offer","offeredItemIds":[4,4],"requestedItemIds":[]}`, bizerrors.ErrInvalidAction},
		{"mmo not decimal", `{"type":"create_rfq","slot":1,"minTier":1,"mmoOffered":"1e18"}`, bizerrors.ErrInvalidAction},
		{"mmo over uint96", `{"type":"create_rfq","slot":1,"minTier":1,"mmoOffered":"79228162514264337593543950336"}`, bizerrors.ErrInvalidAction},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAction([]byte(tt.raw))
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNextRoom_BatchAndSingle(t *testing.T) {
	batch := NextRoom{CharacterID: 1, PotionChoices: []int{0, 1}, AbilityChoices: []int{2, 0}}
	require.NoError(t, batch.Validate())
	assert.True(t, batch.IsBatch())

	single := NextRoom{CharacterID: 1, PotionChoices: []int{3}, AbilityChoices: []int{1}}
	require.NoError(t, single.Validate())
	assert.False(t, single.IsBatch())
	potion, ability := single.SingleChoices()
	assert.Equal(t, uint8(3), potion)
	assert.Equal(t, uint8(1), ability)

	tooMany := NextRoom{CharacterID: 1, PotionChoices: make([]int, 9), AbilityChoices: make([]int, 9)}
	assert.Error(t, tooMany.Validate())
}

func TestConflictKeys(t *testing.T) {
	assert.Equal(t, "character:7", OpenLootboxesMax{CharacterID: 7}.ConflictKey())
	assert.Equal(t, "character:7", ClaimPlayer{CharacterID: 7}.ConflictKey())
	assert.Equal(t, "trade_offer:3", FulfillTradeOffer{OfferID: 3}.ConflictKey())
	assert.Equal(t, "trade_offer:3", CancelExpiredTradeOffer{OfferID: 3}.ConflictKey())
	assert.Empty(t, CreateCharacter{}.ConflictKey())
	assert.Empty(t, CreateRFQ{}.ConflictKey())
	assert.Empty(t, FillRFQ{}.ConflictKey())
	assert.Empty(t, FinalizeEpoch{}.ConflictKey())
}

func TestEncodeAction_RoundTripsThroughParse(t *testing.T) {
	original := OpenLootboxesMax{CharacterID: 9, Tier: 2, MaxAmount: 4, VarianceMode: intPtr(0)}

	encoded, err := EncodeAction(original)
	require.NoError(t, err)

	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(encoded), &fields))
	assert.Equal(t, "open_lootboxes_max", fields["type"])

	parsed, err := ParseActionOfType(ActionOpenLootboxesMax, []byte(encoded))
	require.NoError(t, err)
	assert.Equal(t, original, parsed)
}

func TestVarianceOrDefault(t *testing.T) {
	assert.Equal(t, uint8(DefaultVarianceMode), varianceOrDefault(nil))
	assert.Equal(t, uint8(2), varianceOrDefault(intPtr(2)))
}

func TestCreateRFQ_Amounts(t *testing.T) {
	a := CreateRFQ{Slot: 2, MinTier: 3, MMOOffered: "1000000000000000000"}
	require.NoError(t, a.Validate())
	assert.Equal(t, "1000000000000000000", a.MMOOfferedWei().String())
	assert.Equal(t, int64(0), a.SetMask().Int64())
	assert.Equal(t, int64(0), a.ExpiryOrZero())
}
