package main

import (
	"encoding/base64"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// agentEnvelope mirrors the realtime agent wire format
type agentEnvelope struct {
	Type       string `json:"type"`
	Model      string `json:"model,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Text       string `json:"text,omitempty"`
	DataB64    string `json:"data_b64,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Mime       string `json:"mime,omitempty"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

var coachingLines = []string{
	"Nice setup,",
	"keep your elbow a little higher",
	"on the next swing.",
	"Good follow-through!",
}

func liveHandler(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ Upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	// First message must be the setup envelope
	var setup agentEnvelope
	if err := ws.ReadJSON(&setup); err != nil {
		log.Printf("❌ No setup message: %v", err)
		return
	}

	log.Printf("🎙️  LIVE SESSION CONNECTED:")
	log.Printf("  ═══════════════════════════════════")
	log.Printf("    Session ID: %s", setup.SessionID)
	log.Printf("    Model: %s", setup.Model)
	log.Printf("    Authorization: %s", r.Header.Get("Authorization"))
	log.Printf("  ═══════════════════════════════════")

	ws.WriteJSON(agentEnvelope{Type: "opened", SessionID: setup.SessionID})

	audioPackets := 0
	framePackets := 0
	line := 0

	for {
		var msg agentEnvelope
		if err := ws.ReadJSON(&msg); err != nil {
			log.Printf("👋 Session %s ended after %d audio / %d frame packets",
				setup.SessionID, audioPackets, framePackets)
			return
		}

		switch msg.Type {
		case "audio":
			audioPackets++
			// Every few packets, pretend the coach spoke
			if audioPackets%10 == 0 {
				ws.WriteJSON(agentEnvelope{Type: "transcript", Text: coachingLines[line%len(coachingLines)]})
				line++

				// 100ms of 24kHz silence as fake coach audio
				pcm := make([]byte, 2400*2)
				ws.WriteJSON(agentEnvelope{
					Type:       "audio",
					DataB64:    base64.StdEncoding.EncodeToString(pcm),
					SampleRate: 24000,
				})
				log.Printf("🗣️  Sent coaching response to %s", setup.SessionID)
			}
			// Simulate barge-in detection once in a while
			if audioPackets == 50 {
				ws.WriteJSON(agentEnvelope{Type: "interrupted"})
				log.Printf("✂️  Sent interruption to %s", setup.SessionID)
			}
		case "frame":
			framePackets++
			log.Printf("📷 Frame received (%d bytes, mime %s)", len(msg.DataB64)*3/4, msg.Mime)
		default:
			log.Printf("❓ Unknown message type: %s", msg.Type)
		}
	}
}

func analyzeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	log.Printf("🏅 ANALYSIS REQUEST: sport=%s action=%s", r.FormValue("sport"), r.FormValue("action"))

	// Simulate processing time
	time.Sleep(300 * time.Millisecond)

	response := map[string]interface{}{
		"overallScore": 74.5,
		"bodyPartScores": map[string]float64{
			"head": 80, "shoulders": 75, "arms": 62,
			"torso": 78, "hips": 71, "legs": 81,
		},
		"timestamps": []map[string]interface{}{
			{
				"frame":       24,
				"timestamp":   0.8,
				"displayTime": "00:00:800",
				"issue":       "elbow drops during backswing",
				"feedback":    map[string]string{"arms": "Keep the elbow level through the swing"},
				"statuses":    map[string]string{"arms": "fix"},
				"cues":        []string{"Elbow up", "Slow backswing"},
			},
		},
		"strengths":   []string{"Consistent stance"},
		"weaknesses":  []string{"Elbow position"},
		"suggestions": []string{"Shadow swings in front of a mirror"},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
	log.Printf("✅ ANALYSIS RESPONSE SENT")
}

func coordinatesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(16 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	log.Printf("📍 COORDINATES REQUEST: sport=%s parts=%s", r.FormValue("sport"), r.FormValue("parts"))

	response := map[string]interface{}{
		"coordinates": []map[string]interface{}{
			{"part": "arms", "label": "elbow", "x": 42.0, "y": 31.5, "labelSide": "left", "status": "fix"},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func main() {
	http.HandleFunc("/v1/live", liveHandler)
	http.HandleFunc("/analyze", analyzeHandler)
	http.HandleFunc("/coordinates", coordinatesHandler)

	port := ":9000"
	log.Printf("🚀 Test Agent Server starting on port %s", port)
	log.Printf("📡 Agent endpoint: ws://localhost%s/v1/live", port)
	log.Printf("📡 Analysis endpoint: http://localhost%s/analyze", port)
	log.Println("💡 Update your config to use: ws://localhost:9000/v1/live")

	if err := http.ListenAndServe(port, nil); err != nil {
		log.Fatal("Server failed to start:", err)
	}
}
