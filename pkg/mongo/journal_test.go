package mongo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"julianmorley.ca/con-plar/storefront/pkg/models"
)

func TestExposurePipelineOnlyCountsOpenCases(t *testing.T) {
	p := exposurePipeline()
	require.Len(t, p, 3)

	match, ok := p[0].(bson.D)
	require.True(t, ok)
	assert.Equal(t, "$match", match[0].Key)
	assert.Equal(t, openCasesFilter(), match[0].Value)

	group := p[1].(bson.D)[0].Value.(bson.D)
	assert.Equal(t, "$currency", group[0].Value)
}

func TestRequiredIndexesCoverCaseLookups(t *testing.T) {
	names := map[string]bool{}
	for _, idx := range requiredIndexes {
		assert.Equal(t, CasesCollection, idx.CollectionName)
		keys := idx.IndexModel.Keys.(bson.D)
		names[keys[0].Key] = true
	}
	assert.True(t, names["session_id"])
	assert.True(t, names["status"])
	assert.True(t, names["user_id"])
}

func TestCaseMarshalsWithoutEmptyID(t *testing.T) {
	raw, err := bson.Marshal(models.ReconciliationCase{SessionID: "cs_1", Status: models.CaseOpen, AmountMinor: 150000})
	require.NoError(t, err)

	var doc bson.M
	require.NoError(t, bson.Unmarshal(raw, &doc))
	_, hasID := doc["_id"]
	assert.False(t, hasID)
	assert.Equal(t, "cs_1", doc["session_id"])
	assert.Equal(t, int64(150000), doc["amount_minor"])
}
