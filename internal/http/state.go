package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/kjstillabower/airquality-dashboard/internal/store"
	"github.com/kjstillabower/airquality-dashboard/internal/validation"
)

// validateNames checks the display name and the optional custom name of a location.
func validateNames(name string, customName *string) (string, error) {
	clean, err := validation.ValidateLocation(name, minLocationLength, maxLocationLength)
	if err != nil {
		return "", err
	}
	if customName != nil && *customName != "" {
		c, err := validation.ValidateLocation(*customName, minLocationLength, maxLocationLength)
		if err != nil {
			return "", err
		}
		*customName = c
	}
	return clean, nil
}

// GetLocations handles GET /api/locations.
func (h *Handler) GetLocations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.locations.Snapshot())
}

// PostLocation handles POST /api/locations. Nothing is stored unless every field validates.
func (h *Handler) PostLocation(w http.ResponseWriter, r *http.Request) {
	var in store.NewLocation
	if err := decodeBody(w, r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidBody, "invalid location: "+err.Error())
		return
	}
	name, err := validateNames(in.Name, &in.CustomName)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidLocation, err.Error())
		return
	}
	if err := validation.ValidateCoordinates(in.Lat, in.Lon); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidCoordinates, err.Error())
		return
	}
	in.Name = name
	writeJSON(w, http.StatusCreated, h.locations.Add(in))
}

// PatchLocation handles PATCH /api/locations/{id}.
func (h *Handler) PatchLocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	existing, ok := h.locations.Get(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "location not found")
		return
	}
	var patch store.LocationPatch
	if err := decodeBody(w, r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidBody, "invalid location patch: "+err.Error())
		return
	}
	name := existing.Name
	if patch.Name != nil {
		name = *patch.Name
	}
	clean, err := validateNames(name, patch.CustomName)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidLocation, err.Error())
		return
	}
	if patch.Name != nil {
		patch.Name = &clean
	}
	lat, lon := existing.Lat, existing.Lon
	if patch.Lat != nil {
		lat = *patch.Lat
	}
	if patch.Lon != nil {
		lon = *patch.Lon
	}
	if err := validation.ValidateCoordinates(lat, lon); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidCoordinates, err.Error())
		return
	}
	h.locations.Update(id, patch)
	updated, _ := h.locations.Get(id)
	writeJSON(w, http.StatusOK, updated)
}

// DeleteLocation handles DELETE /api/locations/{id}.
func (h *Handler) DeleteLocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := h.locations.Get(id); !ok {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "location not found")
		return
	}
	h.locations.Remove(id)
	w.WriteHeader(http.StatusNoContent)
}

// PostPrimaryLocation handles POST /api/locations/{id}/primary.
func (h *Handler) PostPrimaryLocation(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := h.locations.Get(id); !ok {
		writeError(w, r, http.StatusNotFound, CodeNotFound, "location not found")
		return
	}
	h.locations.SetPrimary(id)
	writeJSON(w, http.StatusOK, h.locations.Snapshot())
}

// currentLocationRequest selects the viewed location: a saved id, an ad-hoc point, or
// neither to clear the selection.
type currentLocationRequest struct {
	ID   string   `json:"id,omitempty"`
	Name string   `json:"name,omitempty"`
	Lat  *float64 `json:"lat,omitempty"`
	Lon  *float64 `json:"lon,omitempty"`
}

// PutCurrentLocation handles PUT /api/locations/current.
func (h *Handler) PutCurrentLocation(w http.ResponseWriter, r *http.Request) {
	var req currentLocationRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidBody, "invalid current location: "+err.Error())
		return
	}
	switch {
	case req.ID != "":
		loc, ok := h.locations.Get(req.ID)
		if !ok {
			writeError(w, r, http.StatusNotFound, CodeNotFound, "location not found")
			return
		}
		h.locations.SetCurrent(&loc)
	case req.Lat != nil || req.Lon != nil:
		if req.Lat == nil || req.Lon == nil {
			writeError(w, r, http.StatusBadRequest, CodeInvalidCoordinates, "lat and lon are both required")
			return
		}
		if err := validation.ValidateCoordinates(*req.Lat, *req.Lon); err != nil {
			writeError(w, r, http.StatusBadRequest, CodeInvalidCoordinates, err.Error())
			return
		}
		name, err := validation.ValidateLocation(req.Name, minLocationLength, maxLocationLength)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, CodeInvalidLocation, err.Error())
			return
		}
		h.locations.SetCurrent(&store.SavedLocation{ID: "current", Name: name, Lat: *req.Lat, Lon: *req.Lon})
	default:
		h.locations.SetCurrent(nil)
	}
	writeJSON(w, http.StatusOK, h.locations.Snapshot())
}

// GetSettings handles GET /api/settings.
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.Snapshot())
}

// writeSettingError maps a validation failure to its error code.
func writeSettingError(w http.ResponseWriter, r *http.Request, err error) {
	code := CodeInvalidSetting
	if errors.Is(err, validation.ErrThresholdRange) {
		code = CodeInvalidThreshold
	}
	writeError(w, r, http.StatusBadRequest, code, err.Error())
}

// PatchSettings handles PATCH /api/settings. Every key is validated before any is applied.
func (h *Handler) PatchSettings(w http.ResponseWriter, r *http.Request) {
	var patch map[string]json.RawMessage
	if err := decodeBody(w, r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidBody, "invalid settings: "+err.Error())
		return
	}
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := validation.ValidateSetting(k, patch[k]); err != nil {
			writeSettingError(w, r, err)
			return
		}
	}
	for _, k := range keys {
		if err := h.settings.UpdateSetting(k, patch[k]); err != nil {
			writeSettingError(w, r, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, h.settings.Snapshot())
}

// PutSetting handles PUT /api/settings/{key}. The body is the bare JSON value.
func (h *Handler) PutSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	var raw json.RawMessage
	if err := decodeBody(w, r, &raw); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidBody, "invalid setting value: "+err.Error())
		return
	}
	if err := validation.ValidateSetting(key, raw); err != nil {
		writeSettingError(w, r, err)
		return
	}
	if err := h.settings.UpdateSetting(key, raw); err != nil {
		writeSettingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.settings.Snapshot())
}

// GetUI handles GET /api/ui.
func (h *Handler) GetUI(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ui.Snapshot())
}

// uiPatch is a partial UI update. A JSON null toast clears the current toast.
type uiPatch struct {
	SidebarCollapsed *bool           `json:"sidebarCollapsed,omitempty"`
	ShowSearchModal  *bool           `json:"showSearchModal,omitempty"`
	ActiveModal      *string         `json:"activeModal,omitempty"`
	Toast            json.RawMessage `json:"toast,omitempty"`
}

// PatchUI handles PATCH /api/ui.
func (h *Handler) PatchUI(w http.ResponseWriter, r *http.Request) {
	var p uiPatch
	if err := decodeBody(w, r, &p); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidBody, "invalid ui patch: "+err.Error())
		return
	}
	var toast *store.Toast
	clearToast := false
	if len(p.Toast) > 0 {
		if bytes.Equal(bytes.TrimSpace(p.Toast), []byte("null")) {
			clearToast = true
		} else {
			toast = &store.Toast{}
			if err := json.Unmarshal(p.Toast, toast); err != nil {
				writeError(w, r, http.StatusBadRequest, CodeInvalidBody, "invalid toast: "+err.Error())
				return
			}
		}
	}
	if p.SidebarCollapsed != nil {
		h.ui.SetSidebarCollapsed(*p.SidebarCollapsed)
	}
	if p.ShowSearchModal != nil {
		h.ui.SetShowSearchModal(*p.ShowSearchModal)
	}
	if p.ActiveModal != nil {
		h.ui.SetActiveModal(*p.ActiveModal)
	}
	switch {
	case clearToast:
		h.ui.ClearToast()
	case toast != nil:
		h.ui.ShowToast(*toast)
	}
	writeJSON(w, http.StatusOK, h.ui.Snapshot())
}

// PostToggleSidebar handles POST /api/ui/sidebar/toggle.
func (h *Handler) PostToggleSidebar(w http.ResponseWriter, r *http.Request) {
	h.ui.ToggleSidebar()
	writeJSON(w, http.StatusOK, h.ui.Snapshot())
}
