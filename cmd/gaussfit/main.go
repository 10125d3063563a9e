// Command gaussfit fits a Gaussian profile to synthetic noisy data with the
// adaptive Metropolis ensemble and prints the recovered parameters.
package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"

	"github.com/BurntSushi/toml"
	_ "github.com/mattn/go-sqlite3"

	mcmc "github.com/richardseifert/PyFAM"
	"github.com/richardseifert/PyFAM/bench"
)

type config struct {
	Walkers  int     `toml:"walkers"`
	Burn     int     `toml:"burn"`
	Steps    int     `toml:"steps"`
	Seed     int64   `toml:"seed"`
	Noise    float64 `toml:"noise"`
	Tol      float64 `toml:"tol"`
	SavePath string  `toml:"save_path"`
	DBPath   string  `toml:"db_path"`
	Verbose  bool    `toml:"verbose"`
}

func defaultConfig() config {
	return config{
		Walkers: 4,
		Burn:    300,
		Steps:   1000,
		Seed:    1,
		Noise:   0.05,
		Tol:     0.1,
	}
}

var cfgpath = flag.String("config", "", "path to TOML config file")

func main() {
	flag.Parse()
	log.SetFlags(0)

	cfg := defaultConfig()
	if *cfgpath != "" {
		if _, err := toml.DecodeFile(*cfgpath, &cfg); err != nil {
			log.Fatalf("bad config %v: %v", *cfgpath, err)
		}
	}

	fn := bench.Gaussian{}
	rng := rand.New(rand.NewSource(cfg.Seed))
	x := bench.Grid(fn, 151)
	y := bench.Sample(fn, x, cfg.Noise, rng)

	opts := []mcmc.Option{mcmc.WithSeed(cfg.Seed)}
	if cfg.SavePath != "" {
		opts = append(opts, mcmc.WithSavePath(cfg.SavePath))
	}
	if cfg.DBPath != "" {
		db, err := sql.Open("sqlite3", cfg.DBPath)
		if err != nil {
			log.Fatalf("opening %v: %v", cfg.DBPath, err)
		}
		defer db.Close()
		opts = append(opts, mcmc.WithDB(db))
	}
	if cfg.Verbose {
		opts = append(opts, mcmc.WithLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))))
	}

	e := mcmc.New(x, y, fn.Eval, opts...)
	if err := e.AddWalkers(cfg.Walkers, fn.StartP(), nil); err != nil {
		log.Fatal(err)
	}

	if err := e.Burn(cfg.Burn); err != nil {
		log.Fatal(err)
	}
	if err := e.Walk(cfg.Burn/4+1, nil, "pilot", false); err != nil {
		log.Fatal(err)
	}
	if err := e.MoveToBestWalker("pilot", mcmc.MethodRecent); err != nil {
		log.Fatal(err)
	}

	checkpoint := cfg.SavePath != "" || cfg.DBPath != ""
	if err := e.Walk(cfg.Steps, nil, "prod", checkpoint); err != nil {
		log.Fatal(err)
	}

	conv, err := e.CheckConvergence("prod", cfg.Tol)
	if err != nil {
		log.Fatal(err)
	}

	var best mcmc.Record
	for i := 0; i < e.Len(); i++ {
		rec, err := e.Walker(i).BestP("prod", mcmc.MethodMean)
		if err != nil {
			log.Fatal(err)
		}
		if best == nil || rec.Cost() < best.Cost() {
			best = rec
		}
	}

	fmt.Printf("true params: %v\n", fn.TrueP())
	fmt.Printf("best params: %v (cost %v)\n", best.Params(), best.Cost())
	fmt.Printf("converged within %v: %v\n", cfg.Tol, conv)

	if cfg.SavePath != "" {
		if err := e.SaveHistory(cfg.SavePath, mcmc.AllRuns()); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("history written to %v\n", cfg.SavePath)
	}
}
