package server

import (
	"net/http"
)

func SetupRoutes(statusHandler *StatusService) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/records/", statusHandler.GetRecord)
	mux.HandleFunc("/files", statusHandler.ListFiles)

	return mux
}
