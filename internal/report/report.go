// Package report renders run results into the human-readable forms the tool
// ships: the full results file, the working-proxies list, the fastest-proxies
// table and the incremental per-record log lines.
package report

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/zelsaddr/GeoNodeProxiesChecker/internal/types"
)

// LogRecord emits the incremental per-record lines as records complete.
// Suitable as the engine's OnComplete callback.
func LogRecord(rec *types.ProxyRecord) {
	addr := rec.Endpoint.Address()
	for _, o := range rec.Outcomes() {
		proto := strings.ToUpper(string(o.Protocol))
		if o.Success {
			log.Infof("[%s OK] %s - %dms", proto, addr, o.Latency.Milliseconds())
		} else {
			log.Debugf("[%s FAIL] %s - %s", proto, addr, o.Error)
		}
	}
}

// WriteResults writes the full per-proxy details for every checked record.
func WriteResults(w io.Writer, records []*types.ProxyRecord, now time.Time) error {
	sep := strings.Repeat("-", 100)

	if _, err := fmt.Fprintf(w, "Proxy Check Results - %s\n%s\n", now.Format("2006-01-02 15:04:05"), sep); err != nil {
		return err
	}

	for _, rec := range records {
		ep := rec.Endpoint
		fmt.Fprintf(w, "Proxy: %s\n", ep.Address())
		if ep.Country != "" {
			fmt.Fprintf(w, "Country: %s\n", ep.Country)
		}
		if ep.AnonymityLevel != "" {
			fmt.Fprintf(w, "Anonymity Level: %s\n", ep.AnonymityLevel)
		}
		if ep.Speed != 0 {
			fmt.Fprintf(w, "Speed: %d\n", ep.Speed)
		}
		if ep.UpTime != 0 {
			fmt.Fprintf(w, "UpTime: %.1f%%\n", ep.UpTime)
		}
		for _, o := range rec.Outcomes() {
			proto := strings.ToUpper(string(o.Protocol))
			fmt.Fprintf(w, "%s Working: %v\n", proto, o.Success)
			if o.Success {
				fmt.Fprintf(w, "%s Response Time: %dms\n", proto, o.Latency.Milliseconds())
			} else if o.Error != "" {
				fmt.Fprintf(w, "%s Error: [%s] %s\n", proto, o.Failure, o.Error)
			}
		}
		if _, err := fmt.Fprintln(w, sep); err != nil {
			return err
		}
	}
	return nil
}

// WriteWorking writes the working proxies in host:port form, one per line,
// in rank order.
func WriteWorking(w io.Writer, s types.RunSummary) error {
	for _, rec := range s.Ranked {
		if _, err := fmt.Fprintln(w, rec.Endpoint.Address()); err != nil {
			return err
		}
	}
	return nil
}

// WriteFastestTable renders the ranked records as an aligned table.
func WriteFastestTable(w io.Writer, s types.RunSummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROXY\tCOUNTRY\tANONYMITY\tRESPONSE TIME\tPROTOCOLS\tSPEED\tUPTIME")

	for _, rec := range s.Ranked {
		ep := rec.Endpoint
		lat, _ := rec.MinLatency()

		var protos []string
		for _, o := range rec.Outcomes() {
			if o.Success {
				protos = append(protos, strings.ToUpper(string(o.Protocol)))
			}
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%dms\t%s\t%d\t%.1f%%\n",
			ep.Address(), ep.Country, ep.AnonymityLevel,
			lat.Milliseconds(), strings.Join(protos, ", "), ep.Speed, ep.UpTime)
	}
	return tw.Flush()
}

// SaveAll writes the three output files for a finished run.
func SaveAll(resultsPath, workingPath, fastestPath string, records []*types.ProxyRecord, s types.RunSummary) error {
	if err := saveTo(resultsPath, func(w io.Writer) error {
		return WriteResults(w, records, time.Now())
	}); err != nil {
		return fmt.Errorf("save results: %w", err)
	}
	log.Infof("Results saved to %s", resultsPath)

	if err := saveTo(workingPath, func(w io.Writer) error {
		return WriteWorking(w, s)
	}); err != nil {
		return fmt.Errorf("save working proxies: %w", err)
	}
	log.Infof("%d working proxies saved to %s", len(s.Ranked), workingPath)

	if err := saveTo(fastestPath, func(w io.Writer) error {
		fmt.Fprintf(w, "Top %d Fastest Proxies - %s\n", len(s.Ranked), time.Now().Format("2006-01-02 15:04:05"))
		return WriteFastestTable(w, s)
	}); err != nil {
		return fmt.Errorf("save fastest proxies: %w", err)
	}
	log.Infof("Fastest proxies saved to %s", fastestPath)

	return nil
}

func saveTo(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LogSummary prints the end-of-run statistics.
func LogSummary(s types.RunSummary) {
	log.Infof("Total proxies checked: %d", s.TotalChecked)
	log.Infof("Working proxies: %d", s.Working)
	for _, proto := range []types.Protocol{types.ProtocolHTTP, types.ProtocolHTTPS, types.ProtocolSOCKS5} {
		if n, ok := s.WorkingByProtocol[proto]; ok {
			log.Infof("%s working: %d", strings.ToUpper(string(proto)), n)
		}
	}
	log.Infof("Failed proxies: %d", s.Failed)
	log.Infof("Run duration: %v", s.Duration.Round(time.Millisecond))
}
