package apiserver

import (
	"encoding/json"
	"net/http"

	"github.com/acorn-io/acorn-registry/pkg/model"
	"github.com/sirupsen/logrus"
)

func writeError(w http.ResponseWriter, httpStatus int, resp model.ErrorResponse) {
	if httpStatus >= http.StatusInternalServerError {
		logrus.Errorf("got a response error: %s %s", resp.Error, resp.Message)
	} else {
		logrus.Debugf("got a response error: %s %s%s", resp.Error, resp.Reason, resp.FailReason)
	}
	writeJSON(w, httpStatus, resp)
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, data)
}

func writeJSON(w http.ResponseWriter, httpStatus int, data interface{}) {
	res, err := json.Marshal(data)
	if err != nil {
		logrus.Errorf("unable to encode response: %v", err)
		httpStatus = http.StatusInternalServerError
		res = []byte(`{"error":"internal_error"}`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_, _ = w.Write(res)
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, model.ErrorResponse{Error: model.ErrorNotFound})
}
