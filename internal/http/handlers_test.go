package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/cache"
	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/config"
	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/models"
	"github.com/AsadullahAbbasi/Carpool-world-sub000/internal/storage"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T) (*Server, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	cfg := config.ServerConfig{
		JWTSecret:         testSecret,
		HeartbeatInterval: 10 * time.Millisecond,
		SweepInterval:     20 * time.Millisecond,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, logger, store, cache.NewMemoryProfileCache(time.Minute), nil), store
}

func signToken(t *testing.T, userID string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func doReq(t *testing.T, srv http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func validInput() map[string]any {
	return map[string]any{
		"type":           "offering",
		"start_location": "Colombo",
		"end_location":   "Kandy",
		"ride_date":      "2025-06-02",
		"ride_time":      "08:30",
		"phone":          "0771234567",
	}
}

func TestCreateRide(t *testing.T) {
	srv, _ := newTestServer(t)
	token := signToken(t, "u1")

	rec := doReq(t, srv, "POST", "/api/v1/rides", token, validInput())
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var got models.Ride
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "offering", got.Type)
	assert.False(t, got.ExpiresAt.IsZero(), "expiry defaulted from departure")
}

func TestCreateRideRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doReq(t, srv, "POST", "/api/v1/rides", "", validInput())
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateRideValidation(t *testing.T) {
	srv, _ := newTestServer(t)
	token := signToken(t, "u1")

	in := validInput()
	in["type"] = "carpooling"
	rec := doReq(t, srv, "POST", "/api/v1/rides", token, in)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	in = validInput()
	in["ride_date"] = "02-06-2025"
	rec = doReq(t, srv, "POST", "/api/v1/rides", token, in)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	in = validInput()
	in["seats_available"] = 11
	rec = doReq(t, srv, "POST", "/api/v1/rides", token, in)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestInvalidTokenRejected(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doReq(t, srv, "GET", "/api/v1/rides", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTokenViaQueryParam(t *testing.T) {
	srv, _ := newTestServer(t)
	token := signToken(t, "u1")

	rec := doReq(t, srv, "POST", "/api/v1/rides?token="+token, "", validInput())
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestListRides(t *testing.T) {
	srv, store := newTestServer(t)
	ctx := context.Background()

	now := time.Now()
	live := &models.Ride{ID: "live", Type: "offering", StartLocation: "A", EndLocation: "B",
		UserID: "u1", ExpiresAt: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now}
	archived := &models.Ride{ID: "old", Type: "seeking", StartLocation: "A", EndLocation: "B",
		UserID: "u1", IsArchived: true, ExpiresAt: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.CreateRide(ctx, live))
	require.NoError(t, store.CreateRide(ctx, archived))

	rec := doReq(t, srv, "GET", "/api/v1/rides", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rides []*models.Ride
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rides))
	require.Len(t, rides, 1)
	assert.Equal(t, "live", rides[0].ID)

	// owners see everything they posted, archived included
	rec = doReq(t, srv, "GET", "/api/v1/rides?mine=true", signToken(t, "u1"), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rides))
	assert.Len(t, rides, 2)

	rec = doReq(t, srv, "GET", "/api/v1/rides?mine=true", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListRidesEmptyIsArray(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doReq(t, srv, "GET", "/api/v1/rides", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestGetRideAttachesProfile(t *testing.T) {
	srv, store := newTestServer(t)
	store.PutProfile("u1", &models.ProfileSummary{FullName: "Ruwan", NICVerified: true})
	now := time.Now()
	require.NoError(t, store.CreateRide(context.Background(), &models.Ride{
		ID: "r1", Type: "offering", StartLocation: "A", EndLocation: "B",
		UserID: "u1", ExpiresAt: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now,
	}))

	rec := doReq(t, srv, "GET", "/api/v1/rides/r1", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.Ride
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.NotNil(t, got.Profiles)
	assert.Equal(t, "Ruwan", got.Profiles.FullName)

	rec = doReq(t, srv, "GET", "/api/v1/rides/missing", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateRideOwnership(t *testing.T) {
	srv, store := newTestServer(t)
	now := time.Now()
	require.NoError(t, store.CreateRide(context.Background(), &models.Ride{
		ID: "r1", Type: "offering", StartLocation: "A", EndLocation: "B",
		UserID: "u1", ExpiresAt: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now,
	}))

	in := validInput()
	in["end_location"] = "Galle"

	rec := doReq(t, srv, "PUT", "/api/v1/rides/r1", signToken(t, "u2"), in)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doReq(t, srv, "PUT", "/api/v1/rides/r1", signToken(t, "u1"), in)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got models.Ride
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "Galle", got.EndLocation)
}

func TestDeleteRide(t *testing.T) {
	srv, store := newTestServer(t)
	now := time.Now()
	require.NoError(t, store.CreateRide(context.Background(), &models.Ride{
		ID: "r1", Type: "offering", StartLocation: "A", EndLocation: "B",
		UserID: "u1", ExpiresAt: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now,
	}))

	rec := doReq(t, srv, "DELETE", "/api/v1/rides/r1", signToken(t, "u2"), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = doReq(t, srv, "DELETE", "/api/v1/rides/r1", signToken(t, "u1"), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doReq(t, srv, "DELETE", "/api/v1/rides/r1", signToken(t, "u1"), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRideStreamDeliversChanges(t *testing.T) {
	srv, store := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	req, err := http.NewRequest("GET", ts.URL+"/api/v1/rides/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	frames := make(chan string, 16)
	go func() {
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, "data: ") {
				frames <- strings.TrimPrefix(line, "data: ")
			}
		}
	}()

	waitFrame := func() map[string]any {
		select {
		case raw := <-frames:
			var v map[string]any
			require.NoError(t, json.Unmarshal([]byte(raw), &v))
			return v
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for a stream frame")
			return nil
		}
	}

	assert.Equal(t, "connected", waitFrame()["type"])

	now := time.Now()
	require.NoError(t, store.CreateRide(context.Background(), &models.Ride{
		ID: "r1", Type: "offering", StartLocation: "A", EndLocation: "B",
		UserID: "u1", ExpiresAt: now.Add(time.Hour), CreatedAt: now, UpdatedAt: now,
	}))

	frame := waitFrame()
	assert.Equal(t, "insert", frame["operation"])

	require.NoError(t, store.DeleteRide(context.Background(), "r1"))
	frame = waitFrame()
	assert.Equal(t, "delete", frame["operation"])
	assert.Equal(t, "r1", frame["rideId"])
	_, hasBody := frame["ride"]
	assert.False(t, hasBody, "deletes carry no document")
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doReq(t, srv, "GET", "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
