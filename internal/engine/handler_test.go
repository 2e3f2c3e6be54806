package engine

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(f *fixture) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	RegisterRoutes(app, NewHandler(f.writer, f.reg))
	return app
}

type apiResponse struct {
	Data  map[string]any `json:"data"`
	Error *AppError      `json:"error"`
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (int, apiResponse) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out apiResponse
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	return resp.StatusCode, out
}

func TestHandler_CreateNestedTree(t *testing.T) {
	f := newFixture(t)
	f.seed("city", map[string]any{"id": 5, "name": "Santos"})
	app := newTestApp(f)

	status, resp := doJSON(t, app, http.MethodPost, "/api/region",
		`{"name":"São Paulo","cities":[{"city_id":5,"main":true}],"offices":[{"name":"hq"}]}`)
	require.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "São Paulo", resp.Data["name"])
	assert.EqualValues(t, 1, f.count("region_cities"))
	assert.EqualValues(t, 1, f.count("offices"))

	status, resp = doJSON(t, app, http.MethodGet, "/api/region/1?include=cities,offices", "")
	require.Equal(t, http.StatusOK, status)
	cities := resp.Data["cities"].([]any)
	require.Len(t, cities, 1)
	city := cities[0].(map[string]any)
	assert.Equal(t, "Santos", city["name"])
	assert.Equal(t, true, city["pivot"].(map[string]any)["main"])
	assert.Len(t, resp.Data["offices"], 1)
}

func TestHandler_UpdateAppliesDirectives(t *testing.T) {
	f := newFixture(t)
	f.seed("city", map[string]any{"id": 5, "name": "Santos"})
	f.seed("city", map[string]any{"id": 9, "name": "Guarulhos"})
	region := f.seed("region", map[string]any{
		"name":   "SP",
		"cities": []any{map[string]any{"city_id": 5}, map[string]any{"city_id": 9}},
	})
	app := newTestApp(f)

	status, resp := doJSON(t, app, http.MethodPut, "/api/region/1",
		`{"name":"SP state","cities":{"_delete":true,"city_id":5}}`)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "SP state", resp.Data["name"])
	assert.Equal(t, []any{int64(9)}, f.linkedTargets("region_cities", "region_id", "city_id", region.ID))
}

func TestHandler_Errors(t *testing.T) {
	f := newFixture(t)
	f.seed("region", map[string]any{"name": "SP"})
	app := newTestApp(f)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		status int
		code   string
	}{
		{"unknown entity", http.MethodGet, "/api/planet/1", "", 404, "UNKNOWN_ENTITY"},
		{"missing record", http.MethodGet, "/api/region/42", "", 404, "NOT_FOUND"},
		{"unknown include", http.MethodGet, "/api/region/1?include=moons", "", 400, "UNKNOWN_FIELD"},
		{"invalid body", http.MethodPost, "/api/region", `{"name":`, 400, "INVALID_PAYLOAD"},
		{"nested validation", http.MethodPost, "/api/region", `{"name":"x","offices":[{"name":""}]}`, 422, "VALIDATION_FAILED"},
		{"ambiguous delete", http.MethodPut, "/api/region/1", `{"offices":{"_delete":true,"id":7}}`, 409, "AMBIGUOUS_MATCH"},
		{"update missing", http.MethodPut, "/api/region/42", `{"name":"y"}`, 404, "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, resp := doJSON(t, app, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.status, status)
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.code, resp.Error.Code)
		})
	}

	_, resp := doJSON(t, app, http.MethodPost, "/api/region", `{"name":"x","offices":[{"name":"ok"},{"name":""}]}`)
	require.NotNil(t, resp.Error)
	require.Len(t, resp.Error.Details, 1)
	assert.Equal(t, "offices.1.name", resp.Error.Details[0].Field)
	assert.EqualValues(t, 1, f.count("regions"))
}

func TestResolveEntity_UnknownEntityReturnsError(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.writer, f.reg)

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/api/:entity", func(c *fiber.Ctx) error {
		entity, err := h.resolveEntity(c)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"data": fiber.Map{"name": entity.Name}})
	})

	status, resp := doJSON(t, app, http.MethodGet, "/api/nonexistent", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Contains(t, resp.Error.Message, "nonexistent")

	status, resp = doJSON(t, app, http.MethodGet, "/api/region", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "region", resp.Data["name"])
}
