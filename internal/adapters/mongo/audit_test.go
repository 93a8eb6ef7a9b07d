package mongo

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/traveland-bookings/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
)

func TestAuditLog_BSONShape(t *testing.T) {
	at := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	a := &AuditLogger{logger: observability.NewNopLogger(), now: func() time.Time { return at }}
	user := uuid.New()
	booking := uuid.New()

	log := a.newLog("booking.created", user, map[string]interface{}{"booking_id": booking.String(), "guests": 2})
	raw, err := bson.Marshal(log)
	require.NoError(t, err)

	var doc bson.M
	require.NoError(t, bson.Unmarshal(raw, &doc))
	assert.Equal(t, "booking.created", doc["action"])
	assert.Equal(t, user.String(), doc["user_id"])
	data, ok := doc["data"].(bson.M)
	require.True(t, ok)
	assert.Equal(t, booking.String(), data["booking_id"])
	assert.EqualValues(t, 2, data["guests"])
}
