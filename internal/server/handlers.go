package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/vitebski/mysql-model-detector/internal/errs"
	"github.com/vitebski/mysql-model-detector/pkg/models"
)

type queryRequest struct {
	Statement string `json:"statement"`
}

type reloadRequest struct {
	ConnectionID int64 `json:"connectionId"`
}

type updateRelationshipRequest struct {
	Relationship models.LogicalForeignKey `json:"relationship"`
	Changes      models.LogicalForeignKey `json:"changes"`
}

type connectionStatus struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
}

func (s *Server) listConnections(w http.ResponseWriter, r *http.Request) {
	s.writeOK(w, s.registry.List())
}

func (s *Server) testConnection(w http.ResponseWriter, r *http.Request) {
	var cfg models.ConnectionConfig
	if err := decode(r, &cfg); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOK(w, s.registry.TestConnection(r.Context(), cfg))
}

func (s *Server) openConnection(w http.ResponseWriter, r *http.Request) {
	var cfg models.ConnectionConfig
	if err := decode(r, &cfg); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOK(w, s.registry.Open(r.Context(), cfg))
}

func (s *Server) closeConnection(w http.ResponseWriter, r *http.Request) {
	s.writeOK(w, s.registry.Close(chi.URLParam(r, "name")))
}

func (s *Server) connectionStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	s.writeOK(w, connectionStatus{Name: name, Connected: s.registry.Status(r.Context(), name)})
}

func (s *Server) executeQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if req.Statement == "" {
		s.writeError(w, errs.Validation("statement is required"))
		return
	}

	rows, err := s.registry.Execute(r.Context(), chi.URLParam(r, "name"), req.Statement)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOK(w, rows)
}

func (s *Server) scan(w http.ResponseWriter, r *http.Request) {
	var cfg models.ConnectionConfig
	if err := decode(r, &cfg); err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.scanner.Scan(r.Context(), cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOK(w, result)
}

func (s *Server) model(w http.ResponseWriter, r *http.Request) {
	s.writeOK(w, s.orchestrator.Snapshot())
}

func (s *Server) detect(w http.ResponseWriter, r *http.Request) {
	var cfg models.ConnectionConfig
	if err := decode(r, &cfg); err != nil {
		s.writeError(w, err)
		return
	}

	metadata, err := s.orchestrator.Detect(r.Context(), cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOK(w, metadata)
}

func (s *Server) reload(w http.ResponseWriter, r *http.Request) {
	var req reloadRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	metadata, err := s.orchestrator.Reload(r.Context(), req.ConnectionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOK(w, metadata)
}

func (s *Server) save(w http.ResponseWriter, r *http.Request) {
	if err := s.orchestrator.Save(r.Context()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOK(w, nil)
}

func (s *Server) addRelationship(w http.ResponseWriter, r *http.Request) {
	var fk models.LogicalForeignKey
	if err := decode(r, &fk); err != nil {
		s.writeError(w, err)
		return
	}

	added, err := s.orchestrator.AddRelationship(fk)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOK(w, added)
}

func (s *Server) updateRelationship(w http.ResponseWriter, r *http.Request) {
	var req updateRelationshipRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	updated, err := s.orchestrator.UpdateRelationship(req.Relationship.Key(), req.Changes)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOK(w, updated)
}

func (s *Server) removeRelationship(w http.ResponseWriter, r *http.Request) {
	var fk models.LogicalForeignKey
	if err := decode(r, &fk); err != nil {
		s.writeError(w, err)
		return
	}

	if err := s.orchestrator.RemoveRelationship(fk.Key()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeOK(w, nil)
}

func (s *Server) tableRelations(w http.ResponseWriter, r *http.Request) {
	s.writeOK(w, s.orchestrator.TableRelations(chi.URLParam(r, "table")))
}
