package page

import (
	"encoding/json"
	"net/http"
)

type VerifyResp struct {
	Success bool   `json:"success"`
	Status  string `json:"status,omitempty"`
}

func WriteAjaxResp(w http.ResponseWriter, obj interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(obj)
}

// WriteAjaxRespStatus is WriteAjaxResp with a non-200 status code.
func WriteAjaxRespStatus(w http.ResponseWriter, code int, obj interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	return json.NewEncoder(w).Encode(obj)
}
