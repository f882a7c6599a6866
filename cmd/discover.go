package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/dramcove/catalog-cli/internal/pipeline"
	"github.com/dramcove/catalog-cli/internal/queue"
	"github.com/dramcove/catalog-cli/pkg/search"
)

var (
	discoverFile     string
	discoverQuery    string
	discoverTypeHint string
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Run a discovery source and process every URL it yields",
	Long:  "Collects product page URLs from a seed file (--file, one URL per line with an optional tab-separated type hint) or a web search (--query), then processes each through the pipeline.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		reg := pipeline.NewCollectorRegistry()
		if discoverFile != "" {
			c, err := fileCollector(discoverFile, discoverTypeHint)
			if err != nil {
				return err
			}
			if err := reg.Register(c); err != nil {
				return err
			}
		}
		if discoverQuery != "" {
			if err := reg.Register(&searchCollector{client: env.Search, query: discoverQuery, hint: discoverTypeHint}); err != nil {
				return err
			}
		}
		if len(reg.Names()) == 0 {
			return eris.New("pass --file and/or --query")
		}

		var jobs []queue.Job
		for _, name := range reg.Names() {
			c, _ := reg.Get(name)
			seeds, err := c.Collect(ctx)
			if err != nil {
				return eris.Wrapf(err, "collect %s", name)
			}
			for _, s := range seeds {
				jobs = append(jobs, queue.Job{
					URL: s.URL,
					Context: pipeline.Context{
						ProductTypeHint: s.ProductTypeHint,
						DiscoverySource: name,
					},
					Priority: queue.PriorityNormal,
				})
			}
		}
		if len(jobs) == 0 {
			fmt.Println("no urls discovered")
			return nil
		}

		sum, err := queue.Run(ctx, jobs, cfg.Queue.MaxConcurrent, env.Pipeline)
		if err != nil {
			return err
		}
		fmt.Printf("discovered %d urls: %d succeeded (%d new, %d merged), %d failed\n",
			sum.Processed, sum.Succeeded, sum.Created, sum.Merged, sum.Failed)
		return nil
	},
}

// fileCollector reads "url<TAB>type hint" lines into a static collector.
func fileCollector(path, defaultHint string) (pipeline.Collector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "open seed file")
	}
	defer f.Close()

	var seeds []pipeline.Seed
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		url, hint, _ := strings.Cut(line, "\t")
		if hint == "" {
			hint = defaultHint
		}
		seeds = append(seeds, pipeline.Seed{URL: url, ProductTypeHint: strings.TrimSpace(hint)})
	}
	if err := scanner.Err(); err != nil {
		return nil, eris.Wrap(err, "read seed file")
	}
	return pipeline.NewSeedListCollector("seed-file", seeds), nil
}

// searchCollector discovers product pages through the web search API.
type searchCollector struct {
	client search.Client
	query  string
	hint   string
}

func (c *searchCollector) Name() string { return "search" }

func (c *searchCollector) Collect(ctx context.Context) ([]pipeline.Seed, error) {
	hits, err := c.client.Search(ctx, c.query)
	if err != nil {
		return nil, err
	}
	seeds := make([]pipeline.Seed, 0, len(hits))
	for _, h := range hits {
		seeds = append(seeds, pipeline.Seed{URL: h.URL, ProductTypeHint: c.hint})
	}
	return seeds, nil
}

func init() {
	discoverCmd.Flags().StringVar(&discoverFile, "file", "", "seed file of product page URLs")
	discoverCmd.Flags().StringVar(&discoverQuery, "query", "", "web search query to discover URLs")
	discoverCmd.Flags().StringVar(&discoverTypeHint, "type-hint", "", "product type hint for discovered URLs")
	rootCmd.AddCommand(discoverCmd)
}
