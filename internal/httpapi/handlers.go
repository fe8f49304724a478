package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Linhhh07/Iot/internal/reconcile"
	"github.com/Linhhh07/Iot/internal/store"
)

type sensorDTO struct {
	ID          uint    `json:"id"`
	Temperature float64 `json:"temperature"`
	Humidity    int     `json:"humidity"`
	Light       float64 `json:"light"`
	CreatedAt   string  `json:"created_at"`
}

type deviceStatusDTO struct {
	ID         uint   `json:"id,omitempty"`
	DeviceName string `json:"device_name"`
	State      string `json:"state"`
	CreatedAt  string `json:"created_at"`
}

type pageResponse[T any] struct {
	Page       int    `json:"page"`
	Limit      int    `json:"limit"`
	Total      int64  `json:"total"`
	TotalPages int    `json:"totalPages"`
	SortKey    string `json:"sortKey"`
	SortOrder  string `json:"sortOrder"`
	Data       []T    `json:"data"`
}

func toPageResponse[S, T any](p store.Page[S], conv func(S) T) pageResponse[T] {
	data := make([]T, 0, len(p.Rows))
	for _, row := range p.Rows {
		data = append(data, conv(row))
	}
	order := "ASC"
	if p.Desc {
		order = "DESC"
	}
	return pageResponse[T]{
		Page:       p.Page,
		Limit:      p.Limit,
		Total:      p.Total,
		TotalPages: p.TotalPages,
		SortKey:    p.SortKey,
		SortOrder:  order,
		Data:       data,
	}
}

func (s *Server) toSensorDTO(r store.SensorReading) sensorDTO {
	return sensorDTO{
		ID:          r.ID,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Light:       r.Light,
		CreatedAt:   r.CreatedAt.In(s.loc).Format(displayLayout),
	}
}

func (s *Server) toStatusDTO(r store.DeviceStatus) deviceStatusDTO {
	return deviceStatusDTO{
		ID:         r.ID,
		DeviceName: r.DeviceName,
		State:      string(r.State),
		CreatedAt:  r.CreatedAt.In(s.loc).Format(displayLayout),
	}
}

// parsePaging reads page, limit, sortKey and sortOrder. Bad numbers fall back to
// defaults; the store clamps the rest.
func parsePaging(r *http.Request) store.Paging {
	q := r.URL.Query()
	p := store.Paging{
		SortKey: strings.TrimSpace(q.Get("sortKey")),
		Desc:    !strings.EqualFold(strings.TrimSpace(q.Get("sortOrder")), "asc"),
	}
	if n, err := strconv.Atoi(strings.TrimSpace(q.Get("page"))); err == nil {
		p.Page = n
	}
	if n, err := strconv.Atoi(strings.TrimSpace(q.Get("limit"))); err == nil {
		p.Limit = n
	}
	return p
}

func (s *Server) handleSensorSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sq := store.SensorQuery{Paging: parsePaging(r)}

	if v, ok := parseFloatParam(q.Get("temperature")); ok {
		sq.Temperature = &v
	}
	if v, ok := parseFloatParam(q.Get("humidity")); ok {
		h := int(v)
		sq.Humidity = &h
	}
	if v, ok := parseFloatParam(q.Get("light")); ok {
		sq.Light = &v
	}

	search := strings.TrimSpace(q.Get("search"))
	if search != "" && sq.Temperature == nil && sq.Humidity == nil && sq.Light == nil {
		if v, err := strconv.ParseFloat(search, 64); err == nil {
			sq.AnyValue = &v
		} else if window, err := parseTimePrefix(search, s.loc); err == nil {
			sq.Windows = append(sq.Windows, window)
		} else if clock, err := parseClock(search, s.loc); err == nil {
			sq.Clock = &clock
		} else {
			// An empty window matches nothing.
			sq.Windows = append(sq.Windows, store.TimeWindow{})
		}
	}

	if raw := strings.TrimSpace(q.Get("time")); raw != "" {
		window, err := parseTimeFilter(raw, s.loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid time format")
			return
		}
		sq.Windows = append(sq.Windows, window)
	}

	page, err := s.queries.SearchSensors(r.Context(), sq)
	if err != nil {
		slog.Error("sensor search failed", "error", err)
		writeError(w, http.StatusInternalServerError, "DB error")
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page, s.toSensorDTO))
}

func parseFloatParam(raw string) (float64, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(raw, 64)
	return v, err == nil
}

func (s *Server) handleDevicesLatest(w http.ResponseWriter, r *http.Request) {
	var window *store.TimeWindow
	if raw := strings.TrimSpace(r.URL.Query().Get("time")); raw != "" {
		// An unreadable time filter is ignored here.
		if wdw, err := parseTimeFilter(raw, s.loc); err == nil {
			window = &wdw
		}
	}

	rows, err := s.queries.LatestDeviceStates(r.Context(), window)
	if err != nil {
		slog.Error("latest device states failed", "error", err)
		writeError(w, http.StatusInternalServerError, "DB error")
		return
	}
	out := make([]deviceStatusDTO, 0, len(rows))
	for _, row := range rows {
		dto := s.toStatusDTO(row)
		dto.ID = 0
		out = append(out, dto)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "id"))
	rec, err := s.queries.LastDeviceState(r.Context(), name)
	if err != nil {
		slog.Error("device status failed", "device", name, "error", err)
		writeError(w, http.StatusInternalServerError, "DB error")
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	dto := s.toStatusDTO(*rec)
	dto.ID = 0
	writeJSON(w, http.StatusOK, dto)
}

type toggleRequest struct {
	Action *string `json:"action"`
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "id"))

	var req toggleRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid json")
			return
		}
	}
	action := ""
	if req.Action != nil {
		action = *req.Action
	}

	res, err := s.commander.Toggle(r.Context(), name, action)
	if err != nil {
		if errors.Is(err, reconcile.ErrEmptyDeviceID) || errors.Is(err, reconcile.ErrInvalidDeviceID) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("toggle failed", "device", name, "error", err)
		writeError(w, http.StatusInternalServerError, "server error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	hq := store.HistoryQuery{
		Paging:     parsePaging(r),
		DeviceName: strings.TrimSpace(chi.URLParam(r, "device")),
		State:      strings.TrimSpace(q.Get("action")),
	}

	// query carries key=value pairs separated by ';'. Only state is understood.
	for _, field := range strings.Split(q.Get("query"), ";") {
		key, value, ok := strings.Cut(field, "=")
		if !ok || value == "" {
			continue
		}
		if strings.TrimSpace(key) == "state" {
			hq.StateContains = append(hq.StateContains, value)
		}
	}

	if raw := strings.TrimSpace(q.Get("time")); raw != "" {
		if window, err := parseTimeFilter(raw, s.loc); err == nil {
			hq.Window = &window
		}
	}

	page, err := s.queries.DeviceHistory(r.Context(), hq)
	if err != nil {
		slog.Error("device history failed", "device", hq.DeviceName, "error", err)
		writeError(w, http.StatusInternalServerError, "DB error")
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page, s.toStatusDTO))
}
