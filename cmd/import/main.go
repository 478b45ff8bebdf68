/*
main.go - Batch import command

PURPOSE:
  Imports one month's reports from the command line, without the server:
  optionally refreshes the school master from a workbook, runs the sales
  CSV through the full pipeline, merges the result, and computes member
  rates from an enrollment workbook.

COMMAND-LINE FLAGS:
  -db          SQLite database path (default: ./data/sales.db)
  -sales       Sales CSV path (required)
  -master      Master workbook path (optional; replaces the stored master)
  -enrollment  Enrollment workbook path (optional)
  -year        Reporting year (required)
  -month       Reporting month 1-12 (required)
  -replace     Overwrite an already-imported period

EXAMPLES:
  # First import of a month, refreshing the master
  ./import -sales=2025-06.csv -master=master.xlsx -year=2025 -month=6

  # Re-import a corrected export
  ./import -sales=2025-06_fixed.csv -year=2025 -month=6 -replace

EXIT CODES:
  0 on success; 1 on any failure, including a rejected batch (the
  unmatched school list is logged before exiting).

SEE ALSO:
  - cmd/server/main.go: The long-running server
  - ingest:             File readers used here
*/
package main

import (
	"errors"
	"flag"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/schoolphoto/sales-engine/ingest"
	"github.com/schoolphoto/sales-engine/reconcile"
	"github.com/schoolphoto/sales-engine/store/sqlite"
)

func main() {
	dbPath := flag.String("db", "./data/sales.db", "SQLite database path")
	salesPath := flag.String("sales", "", "sales CSV path")
	masterPath := flag.String("master", "", "master workbook path (replaces stored master)")
	enrollmentPath := flag.String("enrollment", "", "enrollment workbook path")
	year := flag.Int("year", 0, "reporting year")
	month := flag.Int("month", 0, "reporting month (1-12)")
	replace := flag.Bool("replace", false, "overwrite an already-imported period")
	keyword := flag.String("direct-keyword", reconcile.DefaultDirectKeyword,
		"studio-name keyword marking direct sales")
	flag.Parse()

	log := logrus.New()

	if *salesPath == "" || *year == 0 || *month == 0 {
		flag.Usage()
		os.Exit(1)
	}

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.WithError(err).Fatal("failed to open database")
	}
	defer store.Close()

	if *masterPath != "" {
		f, err := os.Open(*masterPath)
		if err != nil {
			log.WithError(err).Fatal("failed to open master workbook")
		}
		schools, err := ingest.ReadMasterWorkbook(f, "")
		f.Close()
		if err != nil {
			log.WithError(err).Fatal("failed to read master workbook")
		}
		if err := store.ReplaceSchools(schools); err != nil {
			log.WithError(err).Fatal("failed to store master")
		}
		log.WithField("schools", len(schools)).Info("master replaced")
	}

	schools, err := store.LoadSchools()
	if err != nil {
		log.WithError(err).Fatal("failed to load master")
	}
	if len(schools) == 0 {
		log.Fatal("master is empty; provide -master on first run")
	}
	master := reconcile.NewMasterIndex(schools, nil)

	corrections := reconcile.NewCorrectionSet()
	aliases, err := store.LoadAliases()
	if err != nil {
		log.WithError(err).Fatal("failed to load aliases")
	}
	for _, alias := range aliases {
		if _, err := corrections.AddAlias(alias.From, alias.To); err != nil {
			log.WithError(err).WithField("from", alias.From).Warn("skipping stored alias")
		}
	}
	overrides, err := store.LoadOverrides()
	if err != nil {
		log.WithError(err).Fatal("failed to load overrides")
	}
	for _, ov := range overrides {
		if err := corrections.AddOverride(ov); err != nil {
			log.WithError(err).WithField("school", ov.School).Warn("skipping stored override")
		}
	}

	raw, err := os.ReadFile(*salesPath)
	if err != nil {
		log.WithError(err).Fatal("failed to read sales CSV")
	}
	records, err := ingest.ReadSalesCSV(raw)
	if err != nil {
		log.WithError(err).Fatal("failed to parse sales CSV")
	}

	pipeline := &reconcile.Pipeline{
		Master:        master,
		Corrections:   corrections,
		Cumulative:    reconcile.NewCumulativeStore(),
		DirectKeyword: *keyword,
		Log:           log,
	}
	session, err := pipeline.NewSession(records, reconcile.SessionOptions{
		Year:    *year,
		Month:   time.Month(*month),
		Replace: *replace,
	})
	if err != nil {
		log.WithError(err).Fatal("invalid period")
	}
	if err := session.Run(); err != nil {
		var mismatch *reconcile.SchoolMasterMismatchError
		if errors.As(err, &mismatch) {
			for _, label := range mismatch.Labels {
				log.WithField("school", label).Error("not found in master")
			}
		}
		log.WithError(err).Fatal("import failed")
	}
	if err := store.SaveResult(session.Result, *replace); err != nil {
		log.WithError(err).Fatal("failed to store result")
	}
	log.WithFields(logrus.Fields{
		"period":  session.Period.Key(),
		"total":   session.Result.Total.Yen(),
		"schools": session.Result.SchoolCount,
	}).Info("report imported")

	if *enrollmentPath != "" {
		f, err := os.Open(*enrollmentPath)
		if err != nil {
			log.WithError(err).Fatal("failed to open enrollment workbook")
		}
		enrollment, err := ingest.ReadEnrollmentWorkbook(f, "")
		f.Close()
		if err != nil {
			log.WithError(err).Fatal("failed to read enrollment workbook")
		}
		rates, err := reconcile.ComputeRates(enrollment, master, session.Period)
		if err != nil {
			log.WithError(err).Fatal("failed to compute member rates")
		}
		if err := store.SaveMemberRates(rates, *replace); err != nil {
			log.WithError(err).Fatal("failed to store member rates")
		}
		log.WithField("rows", len(rates.Rates)).Info("member rates imported")
	}
}
