// render-stub answers POST /generate the way the PDF render service does,
// without rendering anything. Point RENDER_SERVICE_URL at it for local runs.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

type generateRequest struct {
	Template json.RawMessage     `json:"template"`
	Inputs   []map[string]string `json:"inputs"`
	Filename string              `json:"filename"`
}

type generated struct {
	Timestamp   string            `json:"timestamp"`
	Filename    string            `json:"filename"`
	StoragePath string            `json:"storage_path"`
	Inputs      map[string]string `json:"inputs"`
}

type stats struct {
	Count     int64       `json:"count"`
	Last      []generated `json:"last"`
	Since     string      `json:"since"`
	FailAfter int64       `json:"fail_after,omitempty"`
}

var (
	mu        sync.Mutex
	count     int64
	last      []generated
	since     time.Time
	maxStored = 50

	// failAfter makes every request after the nth answer 500; 0 never fails.
	failAfter int64
)

func main() {
	since = time.Now().UTC()

	addr := ":3001"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}
	publicURL := strings.TrimRight(os.Getenv("PUBLIC_URL"), "/")
	if publicURL == "" {
		publicURL = "http://localhost" + addr
	}
	if v := os.Getenv("FAIL_AFTER"); v != "" {
		fmt.Sscanf(v, "%d", &failAfter)
	}

	http.HandleFunc("/generate", generateHandler(publicURL))
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		last = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("render-stub listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func generateHandler(publicURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			fmt.Fprint(w, `{"message":"method not allowed"}`)
			return
		}

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"message": err.Error()})
			return
		}
		defer r.Body.Close()

		mu.Lock()
		count++
		current := count
		mu.Unlock()

		if failAfter > 0 && current > failAfter {
			log.Printf("generate #%d: failing on purpose", current)
			w.WriteHeader(http.StatusInternalServerError)
			fmt.Fprint(w, `{"message":"render-stub configured to fail"}`)
			return
		}

		name := req.Filename
		if name == "" {
			name = fmt.Sprintf("document_%d", current)
		}
		path := fmt.Sprintf("generated/%s.pdf", name)

		var inputs map[string]string
		if len(req.Inputs) > 0 {
			inputs = req.Inputs[0]
		}

		mu.Lock()
		last = append(last, generated{
			Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
			Filename:    name,
			StoragePath: path,
			Inputs:      inputs,
		})
		if len(last) > maxStored {
			last = last[len(last)-maxStored:]
		}
		mu.Unlock()

		log.Printf("generate #%d: %s (%d inputs)", current, name, len(inputs))
		json.NewEncoder(w).Encode(map[string]string{
			"pdf_url":      publicURL + "/" + path,
			"storage_path": path,
		})
	}
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:     count,
		Last:      last,
		Since:     since.Format(time.RFC3339),
		FailAfter: failAfter,
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}
