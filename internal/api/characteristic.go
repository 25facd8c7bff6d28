package api

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/houseflow-core/internal/accessory"
)

// handleReadCharacteristic reads one characteristic through the provider.
//
//	GET /characteristic/{accessory_id}/{service_name}/{characteristic_name}
func (s *Server) handleReadCharacteristic(w http.ResponseWriter, r *http.Request) {
	accessoryID, service, ok := characteristicTarget(w, r)
	if !ok {
		return
	}
	name, err := accessory.ParseCharacteristicName(chi.URLParam(r, "characteristicName"))
	if err != nil {
		writeRequestError(w, err)
		return
	}
	if !service.Supports(name) {
		writeAccessoryError(w, fmt.Errorf("%w: %s has no %s", accessory.ErrCharacteristicNotSupported, service, name))
		return
	}

	c, err := s.provider.ReadCharacteristic(r.Context(), accessoryID, service, name)
	if err != nil {
		s.logger.Debug("characteristic read failed",
			"accessory_id", accessoryID.String(),
			"service", service,
			"characteristic", name,
			"error", err,
		)
		writeAccessoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// handleWriteCharacteristic writes the characteristic in the request body.
//
//	POST /characteristic/{accessory_id}/{service_name}
func (s *Server) handleWriteCharacteristic(w http.ResponseWriter, r *http.Request) {
	accessoryID, service, ok := characteristicTarget(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeBadRequest(w, "reading request body: "+err.Error())
		return
	}
	c, err := accessory.UnmarshalCharacteristic(body)
	if err != nil {
		writeRequestError(w, err)
		return
	}
	if !service.Supports(c.Name()) {
		writeAccessoryError(w, fmt.Errorf("%w: %s has no %s", accessory.ErrCharacteristicNotSupported, service, c.Name()))
		return
	}
	if !c.Writable() {
		writeAccessoryError(w, fmt.Errorf("%w: %s", accessory.ErrCharacteristicReadOnly, c.Name()))
		return
	}

	if err := s.provider.WriteCharacteristic(r.Context(), accessoryID, service, c); err != nil {
		s.logger.Debug("characteristic write failed",
			"accessory_id", accessoryID.String(),
			"service", service,
			"characteristic", c.Name(),
			"error", err,
		)
		writeAccessoryError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// characteristicTarget parses the accessory id and service from the path.
// On failure it writes the error response and returns ok == false.
func characteristicTarget(w http.ResponseWriter, r *http.Request) (uuid.UUID, accessory.ServiceName, bool) {
	accessoryID, err := uuid.Parse(chi.URLParam(r, "accessoryID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrKindInvalidAccessory, err.Error())
		return uuid.Nil, "", false
	}
	service, err := accessory.ParseServiceName(chi.URLParam(r, "serviceName"))
	if err != nil {
		writeRequestError(w, err)
		return uuid.Nil, "", false
	}
	return accessoryID, service, true
}
