package source

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/berntpopp/kidney-genetics-db-sub005/internal/model"
	"github.com/berntpopp/kidney-genetics-db-sub005/internal/resilience"
)

const mgiReportPath = "/pub/reports/HMD_HumanPhenotype.rpt"

// MGIOptions configures the MGI report client.
type MGIOptions struct {
	// Host is the FTP host, with or without a port.
	Host    string
	Timeout time.Duration
	Retry   resilience.RetryConfig
}

// MGI serves mouse phenotype evidence from the MGI human-mouse homology
// report. The report covers every gene at once, so it is downloaded and
// parsed lazily on first use and then answered from memory for the rest of
// the run.
type MGI struct {
	host    string
	timeout time.Duration
	retry   resilience.RetryConfig
	log     *zap.Logger

	mu       sync.Mutex
	loaded   bool
	bySymbol map[string][]mgiPhenotype
}

type mgiPhenotype struct {
	MouseSymbol string
	MGIID       string
	TermID      string
}

// NewMGI creates the MGI client.
func NewMGI(opts MGIOptions) *MGI {
	if opts.Host == "" {
		opts.Host = "ftp.informatics.jax.org"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = resilience.DefaultRetryConfig()
		opts.Retry.OnRetry = resilience.RetryLogger("mgi", "download")
	}
	host := opts.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "21")
	}
	return &MGI{
		host:    host,
		timeout: opts.Timeout,
		retry:   opts.Retry,
		log:     zap.L().With(zap.String("source", "mgi")),
	}
}

func (c *MGI) Name() string { return "mgi" }

func (c *MGI) FetchGene(ctx context.Context, gene *model.Gene) ([]Evidence, error) {
	if err := c.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	phenotypes := c.bySymbol[strings.ToUpper(gene.ApprovedSymbol)]
	c.mu.Unlock()
	if len(phenotypes) == 0 {
		return nil, ErrNoData
	}

	evidence := make([]Evidence, 0, len(phenotypes))
	for _, p := range phenotypes {
		evidence = append(evidence, Evidence{
			Detail: p.TermID,
			Data: map[string]any{
				"mp_term_id":   p.TermID,
				"mouse_symbol": p.MouseSymbol,
				"mgi_id":       p.MGIID,
			},
		})
	}
	return evidence, nil
}

func (c *MGI) ensureLoaded(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		return nil
	}

	bySymbol, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) (map[string][]mgiPhenotype, error) {
		return c.downloadReport(ctx)
	})
	if err != nil {
		return err
	}

	c.bySymbol = bySymbol
	c.loaded = true
	c.log.Info("loaded phenotype report", zap.Int("genes", len(bySymbol)))
	return nil
}

func (c *MGI) downloadReport(ctx context.Context) (map[string][]mgiPhenotype, error) {
	c.log.Debug("downloading report", zap.String("host", c.host), zap.String("path", mgiReportPath))

	conn, err := ftp.Dial(c.host, ftp.DialWithTimeout(c.timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "mgi: ftp dial"), 0)
	}
	defer conn.Quit() //nolint:errcheck

	if err := conn.Login("anonymous", "anonymous@"); err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "mgi: ftp login"), 0)
	}

	resp, err := conn.Retr(mgiReportPath)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "mgi: ftp retrieve"), 0)
	}
	defer resp.Close() //nolint:errcheck

	return parseMGIReport(resp)
}

// parseMGIReport reads the homology report: tab-separated with the human
// symbol in column 1, mouse symbol in column 5, MGI accession in column 6
// and a space-separated list of high-level MP term IDs in column 7.
func parseMGIReport(r io.Reader) (map[string][]mgiPhenotype, error) {
	bySymbol := make(map[string][]mgiPhenotype)
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			continue
		}
		humanSymbol := strings.ToUpper(strings.TrimSpace(fields[0]))
		mouseSymbol := strings.TrimSpace(fields[4])
		mgiID := strings.TrimSpace(fields[5])
		if humanSymbol == "" {
			continue
		}
		for _, termID := range strings.Fields(fields[6]) {
			termID = strings.TrimSuffix(termID, ",")
			if !strings.HasPrefix(termID, "MP:") {
				continue
			}
			key := humanSymbol + "\x00" + termID
			if seen[key] {
				continue
			}
			seen[key] = true
			bySymbol[humanSymbol] = append(bySymbol[humanSymbol], mgiPhenotype{
				MouseSymbol: mouseSymbol,
				MGIID:       mgiID,
				TermID:      termID,
			})
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "mgi: read report"), 0)
	}
	return bySymbol, nil
}
