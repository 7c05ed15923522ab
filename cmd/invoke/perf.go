package invoke

import (
	"context"
	"encoding/csv"
	"fmt"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/zeroc-ice/ice-sub018/cmd/serve"
	"github.com/zeroc-ice/ice-sub018/cmd/util"
	"github.com/zeroc-ice/ice-sub018/rpc/client"
	"github.com/zeroc-ice/ice-sub018/rpc/common"
	"github.com/zeroc-ice/ice-sub018/rpc/serializer"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf [proxy]",
		Short:   "Performance testing tool for the echo servant",
		Long:    "Measures twoway, oneway and batch oneway invocations against a server started with 'serve'.",
		Args:    cobra.ExactArgs(1),
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfSkip             = make([]string, 0)
)

// benchmark is a single named performance test
type benchmark struct {
	name string
	fn   func(b *testing.B, proxy client.Proxy)
}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. ping,oneway)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the message for the echo-large test should be (in KB)"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

func runPerf(_ *cobra.Command, args []string) error {
	proxy, err := communicator.StringToProxy(args[0])
	if err != nil {
		return err
	}

	fmt.Println("Performance testing tool for the echo servant")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	// fail early if the server is not reachable
	if err := proxy.Ping(context.Background()); err != nil {
		return err
	}

	fmt.Println("starting tests...")

	benchmarks := []benchmark{
		{name: "ping", fn: benchPing},
		{name: "echo", fn: benchEcho("test")},
		{name: "echo-large", fn: benchEcho(strings.Repeat("x", perfLargeValueSizeKB*1024))},
		{name: "oneway", fn: benchOneway},
		{name: "batch-oneway", fn: benchBatchOneway},
	}

	results := make(map[string]testing.BenchmarkResult, len(benchmarks))
	for _, bm := range benchmarks {
		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(bm.name) {
				return
			}
			bm.fn(b, proxy)
		})
		results[bm.name] = result
		printResult(bm.name, result)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, proxy, util.GetClientConfig()); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Benchmarks
// --------------------------------------------------------------------------

func benchPing(b *testing.B, proxy client.Proxy) {
	b.SetParallelism(perfNumThreads)
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if err := proxy.Ping(context.Background()); err != nil {
				log.Printf("(ping) - error: %v\n", err)
			}
		}
	})
}

func benchEcho(msg string) func(b *testing.B, proxy client.Proxy) {
	write := func(out *serializer.OutputStream) error {
		return out.WriteString(msg)
	}

	return func(b *testing.B, proxy client.Proxy) {
		b.SetParallelism(perfNumThreads)
		b.ResetTimer()

		b.RunParallel(func(pb *testing.PB) {
			for pb.Next() {
				if _, err := proxy.Invoke(context.Background(), serve.OpEcho, write); err != nil {
					log.Printf("(echo) - error: %v\n", err)
				}
			}
		})
	}
}

func benchOneway(b *testing.B, proxy client.Proxy) {
	oneway := proxy.WithOneway()

	// a twoway ping afterwards waits until all oneway requests were dispatched
	b.Cleanup(func() {
		if err := proxy.Ping(context.Background()); err != nil {
			log.Printf("(oneway) - error: %v\n", err)
		}
	})

	b.SetParallelism(perfNumThreads)
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := oneway.Invoke(context.Background(), serve.OpCount, nil); err != nil {
				log.Printf("(oneway) - error: %v\n", err)
			}
		}
	})
}

func benchBatchOneway(b *testing.B, proxy client.Proxy) {
	batch := proxy.WithBatchOneway()

	b.SetParallelism(perfNumThreads)
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, err := batch.Invoke(context.Background(), serve.OpCount, nil); err != nil {
				log.Printf("(batch-oneway) - error: %v\n", err)
			}
		}
	})

	// the remaining requests are part of the measurement
	if _, err := batch.FlushBatchRequests(); err != nil {
		log.Printf("(batch-oneway) - error flushing: %v\n", err)
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	// Check if the test is in the skip list
	for _, skip := range perfSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := math.Max(float64(result.NsPerOp()), 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	// Print the formatted result
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, proxy client.Proxy, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Proxy", "TimeoutSec", "BatchAutoFlushSizeKB", "Serializer",
		"Threads", "LargeValueSizeKB",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		var nsPerOp float64
		var opsPerSec float64
		var skipped string

		if result.NsPerOp() == 0 {
			skipped = "true"
		} else {
			skipped = "false"
			nsPerOp = math.Max(float64(result.NsPerOp()), 1)
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			proxy.String(),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.BatchAutoFlushSizeKB),
			viper.GetString("serializer"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
