package main

import (
	"net/http"

	"github.com/lychee-technology/formsync"
)

// handleListForms handles GET /api/forms?page=&pageSize=&search=
func (s *Server) handleListForms(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	page, err := parseInt(params, "page", 1)
	if err != nil {
		badRequest(w, "page", err.Error())
		return
	}
	pageSize, err := parseInt(params, "pageSize", 0)
	if err != nil {
		badRequest(w, "pageSize", err.Error())
		return
	}

	result, err := s.manager.ListForms(r.Context(), formsync.FormListRequest{
		Page:     page,
		PageSize: pageSize,
		Search:   params.Get("search"),
	})
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

// handleSyncForm handles POST /api/sync/{formId}?full=&async=
func (s *Server) handleSyncForm(w http.ResponseWriter, r *http.Request) {
	formID := r.PathValue("formId")
	full, async, ok := syncFlags(w, r)
	if !ok {
		return
	}

	if async {
		taskID, err := s.manager.StartSyncForm(formID, full)
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeSuccess(w, http.StatusAccepted, map[string]string{"taskId": taskID})
		return
	}

	result, err := s.manager.SyncForm(r.Context(), formID, full)
	if err != nil {
		writeError(w, err, partial(result))
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

// handleSyncAll handles POST /api/sync?full=&async=
func (s *Server) handleSyncAll(w http.ResponseWriter, r *http.Request) {
	full, async, ok := syncFlags(w, r)
	if !ok {
		return
	}

	if async {
		taskID, err := s.manager.StartSyncAll(full)
		if err != nil {
			writeError(w, err, nil)
			return
		}
		writeSuccess(w, http.StatusAccepted, map[string]string{"taskId": taskID})
		return
	}

	result, err := s.manager.SyncAll(r.Context(), full)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, APIResponse{Success: result.Success, Data: result})
}

func partial(res *formsync.SyncResult) any {
	if res == nil {
		return nil
	}
	return res
}

func syncFlags(w http.ResponseWriter, r *http.Request) (full, async, ok bool) {
	params := r.URL.Query()
	full, err := parseBool(params, "full", false)
	if err != nil {
		badRequest(w, "full", err.Error())
		return false, false, false
	}
	async, err = parseBool(params, "async", false)
	if err != nil {
		badRequest(w, "async", err.Error())
		return false, false, false
	}
	return full, async, true
}

// handleSyncMembers handles POST /api/members/sync
func (s *Server) handleSyncMembers(w http.ResponseWriter, r *http.Request) {
	result, err := s.manager.SyncMembers(r.Context())
	if err != nil {
		writeError(w, err, partial(result))
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

// handleSearchMembers handles GET /api/members/search?q=&size=
func (s *Server) handleSearchMembers(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	size, err := parseInt(params, "size", 10)
	if err != nil {
		badRequest(w, "size", err.Error())
		return
	}
	result, err := s.manager.SearchMembers(r.Context(), params.Get("q"), size)
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

// handleTaskStatus handles GET /api/tasks/{taskId}
func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	state, err := s.manager.TaskStatus(r.PathValue("taskId"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeSuccess(w, http.StatusOK, state)
}

// handleCancelTask handles DELETE /api/tasks/{taskId}
func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("taskId")
	if err := s.manager.CancelTask(taskID); err != nil {
		writeError(w, err, nil)
		return
	}
	writeSuccess(w, http.StatusAccepted, map[string]string{"taskId": taskID})
}

// handleSearch handles GET /api/search?q=&forms=&size=&from=
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	size, err := parseInt(params, "size", 0)
	if err != nil {
		badRequest(w, "size", err.Error())
		return
	}
	from, err := parseInt(params, "from", 0)
	if err != nil {
		badRequest(w, "from", err.Error())
		return
	}

	result, err := s.manager.Search(r.Context(), formsync.SearchRequest{
		Query:   params.Get("q"),
		FormIDs: parseList(params, "forms"),
		Size:    size,
		From:    from,
	})
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeSuccess(w, http.StatusOK, result)
}

// handleSuggest handles GET /api/suggest?q=
func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	suggestions, err := s.manager.Suggest(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	if suggestions == nil {
		suggestions = []string{}
	}
	writeSuccess(w, http.StatusOK, suggestions)
}

// handleGetRecord handles GET /api/records/{formId}/{recordId}
func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	record, err := s.manager.GetRecord(r.Context(), r.PathValue("formId"), r.PathValue("recordId"))
	if err != nil {
		writeError(w, err, nil)
		return
	}
	writeSuccess(w, http.StatusOK, record)
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.manager.Health(r.Context())
	status := http.StatusOK
	if !report.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, APIResponse{Success: report.Healthy, Data: report})
}
