package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/anisnazira/halal-supply-blockchain/benchmark/client"
)

const (
	administrator = "0xADMIN"
	farm          = "0xFARM"
	plant         = "0xPLANT"
	certifier     = "0xJAKIM"
	logistics     = "0xSHIP"
	retailer      = "0xSHOP"
)

type batchResponse struct {
	ID     uint64 `json:"id"`
	Stage  string `json:"stage"`
	Status string `json:"status"`
}

type RequestResult struct {
	Name        string
	Method      string
	Endpoint    string
	Latency     time.Duration
	BlockHeight int64
}

// step is one request of the workflow. Endpoint may contain %d, filled with
// the batch id.
type step struct {
	name      string
	method    string
	endpoint  string
	principal string
	body      map[string]interface{}
}

var setupSteps = []step{
	{"Grant FarmSupplier", "POST", "/roles/" + farm + "/FarmSupplier", administrator, nil},
	{"Grant ProcessingPlant", "POST", "/roles/" + plant + "/ProcessingPlant", administrator, nil},
	{"Grant CertificationAuthority", "POST", "/roles/" + certifier + "/CertificationAuthority", administrator, nil},
	{"Grant Logistics", "POST", "/roles/" + logistics + "/Logistics", administrator, nil},
	{"Grant Retailer", "POST", "/roles/" + retailer + "/Retailer", administrator, nil},
}

var workflowSteps = []step{
	{"Slaughter", "POST", "/batches/%d/stage", plant, map[string]interface{}{"stage": "Slaughtered"}},
	{"Process", "POST", "/batches/%d/stage", plant, map[string]interface{}{"stage": "Processed"}},
	{"Certify Halal", "POST", "/batches/%d/certify", certifier, nil},
	{"Package", "POST", "/batches/%d/stage", plant, map[string]interface{}{"stage": "Packaged"}},
	{"Record Shipment", "POST", "/batches/%d/shipments", logistics, map[string]interface{}{"location": "Shah Alam DC", "status": "In transit"}},
	{"Confirm Received", "POST", "/batches/%d/receive", retailer, nil},
	{"Get Batch", "GET", "/batches/%d", "", nil},
	{"Shipment History", "GET", "/batches/%d/shipments", "", nil},
}

func main() {
	nodeURL := flag.String("url", "http://127.0.0.1:5000", "Ledger node HTTP address")
	nodes := flag.Int("nodes", 4, "Number of validator nodes, recorded in the file name")
	iterations := flag.Int("n", 1, "Number of iterations to run")
	skipSetup := flag.Bool("skip-setup", false, "Do not grant roles before the first iteration")
	flag.Parse()

	filename := fmt.Sprintf("benchmark_n_%d_nodes_%d.csv", *iterations, *nodes)
	file, err := os.Create(filename)
	if err != nil {
		fmt.Printf("Error creating CSV file: %v\n", err)
		return
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"Iteration", "Step", "Method", "Endpoint", "Latency_ms", "BlockHeight"}
	if err := writer.Write(header); err != nil {
		fmt.Printf("Error writing CSV header: %v\n", err)
		return
	}

	requestClient := client.NewHTTPClient(*nodeURL)
	opts := client.RequestOptions{
		Headers: map[string]string{"Accept": "application/json"},
		Timeout: 10 * time.Second,
	}

	if !*skipSetup {
		for _, s := range setupSteps {
			if _, err := run(requestClient, opts, s, 0); err != nil {
				fmt.Printf("Setup failed at %s: %v\n", s.name, err)
				return
			}
		}
	}

	for i := 0; i < *iterations; i++ {
		fmt.Printf("\n[Iteration %d/%d]\n", i+1, *iterations)
		results := runBenchmark(requestClient, opts)

		for _, result := range results {
			record := []string{
				strconv.Itoa(i + 1),
				result.Name,
				result.Method,
				result.Endpoint,
				strconv.FormatInt(result.Latency.Milliseconds(), 10),
				strconv.FormatInt(result.BlockHeight, 10),
			}
			if err := writer.Write(record); err != nil {
				fmt.Printf("Error writing record to CSV: %v\n", err)
			}
		}

		time.Sleep(100 * time.Millisecond)
	}

	fmt.Printf("\nBenchmark complete. Results saved to %s\n", filename)
}

func run(requestClient *client.HTTPClient, opts client.RequestOptions, s step, batchID uint64) (RequestResult, error) {
	endpoint := s.endpoint
	if batchID != 0 {
		endpoint = fmt.Sprintf(s.endpoint, batchID)
	}

	var body interface{}
	if s.body != nil {
		body = s.body
	}

	start := time.Now()
	resp, err := requestClient.Call(s.method, endpoint, body, opts.As(s.principal))
	elapsed := time.Since(start)
	result := RequestResult{Name: s.name, Method: s.method, Endpoint: s.endpoint, Latency: elapsed}
	if err != nil {
		return result, err
	}
	if meta, err := resp.Meta(); err == nil {
		result.BlockHeight = meta.BlockHeight
	}
	fmt.Printf("%s ok [Delay: %v, Height: %d]\n", s.name, elapsed, result.BlockHeight)
	return result, nil
}

func runBenchmark(requestClient *client.HTTPClient, opts client.RequestOptions) []RequestResult {
	var results []RequestResult
	totalStart := time.Now()

	// Register the batch
	start := time.Now()
	resp, err := requestClient.POST("/batches", map[string]interface{}{
		"details": fmt.Sprintf("Broiler lot %d", time.Now().UnixNano()),
	}, opts.As(farm))
	elapsed := time.Since(start)
	if err != nil {
		fmt.Println(err)
		return results
	}
	var batch batchResponse
	if err := resp.Decode(&batch); err != nil {
		fmt.Println(err)
		return results
	}
	meta, _ := resp.Meta()
	fmt.Printf("BatchID : %d [Delay: %v]\n", batch.ID, elapsed)
	results = append(results, RequestResult{
		Name:        "Create Batch",
		Method:      "POST",
		Endpoint:    "/batches",
		Latency:     elapsed,
		BlockHeight: meta.BlockHeight,
	})

	for _, s := range workflowSteps {
		time.Sleep(100 * time.Millisecond)
		if s.name == "Certify Halal" {
			s.body = map[string]interface{}{"cert_hash": fmt.Sprintf("QmCert%d", batch.ID)}
		}
		result, err := run(requestClient, opts, s, batch.ID)
		if err != nil {
			fmt.Println(err)
			return results
		}
		results = append(results, result)
	}

	totalElapsed := time.Since(totalStart)
	fmt.Printf("\nTotal workflow execution time: %v\n", totalElapsed)

	results = append(results, RequestResult{
		Name:     "Complete Workflow",
		Method:   "WORKFLOW",
		Endpoint: "complete-workflow",
		Latency:  totalElapsed,
	})
	return results
}
