package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"
)

// Replays recorded sensor readings against a running service, or
// generates a synthetic parking session when no CSV is given.
//
// CSV columns: spot_number,left_cm,center_cm,right_cm[,timestamp_ms]
//
// Usage:
//   go run replay_readings.go -url http://localhost:8080 -sensor ESP32_LOT1_A1 -key <api-key> [-csv readings.csv] [-interval 2s]

type reading struct {
	SpotNumber string
	Left       float64
	Center     float64
	Right      float64
	Timestamp  int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "service base URL")
	sensorID := flag.String("sensor", "", "sensor id")
	apiKey := flag.String("key", "", "sensor api key")
	spot := flag.String("spot", "A1", "spot number for synthetic readings")
	csvPath := flag.String("csv", "", "CSV file with recorded readings")
	interval := flag.Duration("interval", 2*time.Second, "delay between readings")
	flag.Parse()

	if *sensorID == "" || *apiKey == "" {
		fmt.Fprintln(os.Stderr, "both -sensor and -key are required")
		os.Exit(1)
	}

	var readings []reading
	var err error
	if *csvPath != "" {
		readings, err = loadCSV(*csvPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *csvPath, err)
			os.Exit(1)
		}
	} else {
		readings = syntheticSession(*spot)
	}

	fmt.Printf("replaying %d readings to %s\n", len(readings), *baseURL)

	client := &http.Client{Timeout: 10 * time.Second}
	sent, failed := 0, 0
	for i, r := range readings {
		if err := post(client, *baseURL, *sensorID, *apiKey, r); err != nil {
			failed++
			fmt.Printf("[%d/%d] %s: FAILED: %v\n", i+1, len(readings), r.SpotNumber, err)
		} else {
			sent++
			fmt.Printf("[%d/%d] %s: l=%.1f c=%.1f r=%.1f\n", i+1, len(readings), r.SpotNumber, r.Left, r.Center, r.Right)
		}
		if i < len(readings)-1 {
			time.Sleep(*interval)
		}
	}

	fmt.Printf("done: %d sent, %d failed\n", sent, failed)
}

func post(client *http.Client, baseURL, sensorID, apiKey string, r reading) error {
	payload := map[string]interface{}{
		"sensor_id":       sensorID,
		"api_key":         apiKey,
		"spot_number":     r.SpotNumber,
		"left_distance":   r.Left,
		"center_distance": r.Center,
		"right_distance":  r.Right,
	}
	if r.Timestamp > 0 {
		payload["timestamp"] = r.Timestamp
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	resp, err := client.Post(baseURL+"/api/v1/sensors/webhook", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}

func loadCSV(path string) ([]reading, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}

	var readings []reading
	for i, row := range rows {
		if i == 0 && row[0] == "spot_number" {
			continue // header
		}
		if len(row) < 4 {
			return nil, fmt.Errorf("row %d: expected at least 4 columns", i+1)
		}
		r := reading{SpotNumber: row[0]}
		if r.Left, err = strconv.ParseFloat(row[1], 64); err != nil {
			return nil, fmt.Errorf("row %d: left: %v", i+1, err)
		}
		if r.Center, err = strconv.ParseFloat(row[2], 64); err != nil {
			return nil, fmt.Errorf("row %d: center: %v", i+1, err)
		}
		if r.Right, err = strconv.ParseFloat(row[3], 64); err != nil {
			return nil, fmt.Errorf("row %d: right: %v", i+1, err)
		}
		if len(row) > 4 && row[4] != "" {
			if r.Timestamp, err = strconv.ParseInt(row[4], 10, 64); err != nil {
				return nil, fmt.Errorf("row %d: timestamp: %v", i+1, err)
			}
		}
		readings = append(readings, r)
	}
	return readings, nil
}

// syntheticSession walks one spot through a full lifecycle: empty,
// entry, a clean park, a drift into misparking, correction, exit.
func syntheticSession(spot string) []reading {
	jitter := func(v float64) float64 { return v + rand.Float64()*2 - 1 }

	var readings []reading
	add := func(l, c, r float64, repeat int) {
		for i := 0; i < repeat; i++ {
			readings = append(readings, reading{
				SpotNumber: spot,
				Left:       jitter(l),
				Center:     jitter(c),
				Right:      jitter(r),
			})
		}
	}

	empty := func(repeat int) {
		// Identical samples so the service sees a stable state.
		for i := 0; i < repeat; i++ {
			readings = append(readings, reading{SpotNumber: spot, Left: 300, Center: 305, Right: 302})
		}
	}
	parked := func(l, c, r float64, repeat int) {
		for i := 0; i < repeat; i++ {
			readings = append(readings, reading{SpotNumber: spot, Left: l, Center: c, Right: r})
		}
	}

	empty(3)
	parked(50, 45, 52, 3)   // clean entry
	add(40, 45, 75, 2)      // drifting right
	parked(20, 45, 110, 3)  // misparked
	parked(48, 45, 50, 3)   // corrected
	empty(3)                // exit

	return readings
}
