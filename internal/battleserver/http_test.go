package battleserver_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cory-johannsen/battlekeep/internal/battleserver"
	"github.com/cory-johannsen/battlekeep/internal/game/battle"
	"github.com/cory-johannsen/battlekeep/internal/game/dice"
	"github.com/cory-johannsen/battlekeep/internal/observability"
)

type fixedSource struct{ face int }

func (f fixedSource) Intn(n int) int { return min(f.face, n-1) }

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(t *testing.T) (*gin.Engine, *fixture) {
	t.Helper()
	f := newFixture(t)
	m := observability.NewMetrics()
	svc := battleserver.NewService(f.store, battle.NewEngine(zap.NewNop()), f.notifier, m, zap.NewNop())
	f.svc = svc
	h := battleserver.NewHandler(svc, dice.NewLoggedRoller(fixedSource{face: 3}, zap.NewNop()), zap.NewNop())
	return battleserver.NewRouter(h, m.Middleware(), m.Handler()), f
}

func do(t *testing.T, r http.Handler, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(battleserver.HeaderUserID, user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeScene(t *testing.T, w *httptest.ResponseRecorder) battle.Scene {
	t.Helper()
	var s battle.Scene
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &s), w.Body.String())
	return s
}

func errorKind(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body["error"]
}

func TestHTTP_BattleFlow(t *testing.T) {
	r, _ := newRouter(t)

	w := do(t, r, http.MethodPost, "/api/v1/campaigns/camp/battles", dmUser, skirmishRequest())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	scene := decodeScene(t, w)
	base := "/api/v1/battles/" + scene.ID

	w = do(t, r, http.MethodPost, base+"/start", dmUser, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, battle.StatusActive, decodeScene(t, w).Status)

	w = do(t, r, http.MethodPost, base+"/actions", playerUser, battle.ActionRequest{
		Type: battle.ActionAttack, ActorID: "hero", TargetIDs: []string{"goblin-1"}, AttackRoll: 13, DamageRolls: []int{4},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decodeScene(t, w)
	require.Len(t, out.BattleLog, 1)
	assert.Equal(t, 1, hp(t, out, "goblin-1"))

	w = do(t, r, http.MethodGet, "/api/v1/battles/active", playerUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), scene.ID)

	w = do(t, r, http.MethodPost, base+"/rollback", dmUser, map[string]int{"actionIndex": 0})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Empty(t, decodeScene(t, w).BattleLog)

	w = do(t, r, http.MethodPost, base+"/reset", dmUser, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, battle.StatusPrepared, decodeScene(t, w).Status)
}

func TestHTTP_ErrorStatuses(t *testing.T) {
	r, f := newRouter(t)
	scene := f.started(t)
	base := "/api/v1/battles/" + scene.ID

	cases := []struct {
		name   string
		method string
		path   string
		user   string
		body   any
		status int
		kind   string
	}{
		{"missing user", http.MethodGet, base, "", nil, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"unknown battle", http.MethodGet, "/api/v1/battles/nope", playerUser, nil, http.StatusNotFound, "NOT_FOUND"},
		{"non member", http.MethodGet, base, "stranger", nil, http.StatusForbidden, "FORBIDDEN"},
		{"player next turn", http.MethodPost, base + "/next-turn", playerUser, nil, http.StatusForbidden, "FORBIDDEN"},
		{"start twice", http.MethodPost, base + "/start", dmUser, nil, http.StatusConflict, "INVALID_STATE"},
		{"morale without roll", http.MethodPost, base + "/morale", dmUser, map[string]any{}, http.StatusBadRequest, "VALIDATION"},
		{"morale out of range", http.MethodPost, base + "/morale", dmUser, map[string]int{"roll": 25}, http.StatusBadRequest, "VALIDATION"},
		{"rollback without index", http.MethodPost, base + "/rollback", dmUser, map[string]any{}, http.StatusBadRequest, "VALIDATION"},
		{"rollback past log", http.MethodPost, base + "/rollback", dmUser, map[string]int{"actionIndex": 3}, http.StatusNotFound, "NOT_FOUND"},
		{"unknown action", http.MethodPost, base + "/actions", dmUser, map[string]string{"actionType": "dance"}, http.StatusBadRequest, "VALIDATION"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, r, tc.method, tc.path, tc.user, tc.body)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Equal(t, tc.kind, errorKind(t, w))
		})
	}
}

func TestHTTP_MetricsAndHealth(t *testing.T) {
	r, _ := newRouter(t)
	do(t, r, http.MethodGet, "/api/v1/battles/active", playerUser, nil)

	w := do(t, r, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `battle_operations_total{op="list_active",result="ok"} 1`)
	assert.Contains(t, w.Body.String(), "battle_http_requests_total")
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, battleserver.StatusFor(battle.KindNotFound))
	assert.Equal(t, http.StatusForbidden, battleserver.StatusFor(battle.KindForbidden))
	assert.Equal(t, http.StatusConflict, battleserver.StatusFor(battle.KindInvalidState))
	assert.Equal(t, http.StatusConflict, battleserver.StatusFor(battle.KindConflict))
	assert.Equal(t, http.StatusBadRequest, battleserver.StatusFor(battle.KindValidation))
	assert.Equal(t, http.StatusBadRequest, battleserver.StatusFor(battle.KindNoSnapshot))
	assert.Equal(t, http.StatusInternalServerError, battleserver.StatusFor(battle.Kind("other")))
}

func TestHTTP_RollDice(t *testing.T) {
	r, _ := newRouter(t)

	w := do(t, r, http.MethodPost, "/api/v1/dice", playerUser, map[string]string{"expression": "2d6+1"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var body struct {
		Dice  []int `json:"dice"`
		Total int   `json:"total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, []int{4, 4}, body.Dice)
	assert.Equal(t, 9, body.Total)

	w = do(t, r, http.MethodPost, "/api/v1/dice", playerUser, map[string]string{"expression": "lots"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
