package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"

	"github.com/goswap/marketplace-stats/models"
	"github.com/shopspring/decimal"
)

func main() {
	url := flag.String("url", "http://localhost:8080", "stats API base url")
	flag.Parse()

	var daily []models.DailyVolume
	if err := get(*url+"/daily-volumes", &daily); err != nil {
		log.Fatalln("failure getting daily volumes:", err)
	}
	var projects []models.ProjectVolume
	if err := get(*url+"/project-volumes", &projects); err != nil {
		log.Fatalln("failure getting project volumes:", err)
	}
	var summary models.TableSummary
	if err := get(*url+"/summary", &summary); err != nil {
		log.Fatalln("failure getting summary:", err)
	}

	t, err := compare(daily, projects, &summary)
	fmt.Println("dailyVol:", t.dailyVol, "projectVol:", t.projectVol, "api:", summary.TotalUSDVolume)
	fmt.Println("dailyTxns:", t.dailyTxns, "projectTxns:", t.projectTxns)
	if err != nil {
		log.Fatalln(err)
	}
}

func get(url string, v interface{}) error {
	resp, err := http.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%v returned %v", url, resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

type totals struct {
	dailyVol, projectVol   decimal.Decimal
	dailyTxns, projectTxns int64
}

// compare checks both endpoints add up to the same totals. Each endpoint row is
// rounded to cents so the sums may drift by up to half a cent per row.
func compare(daily []models.DailyVolume, projects []models.ProjectVolume, summary *models.TableSummary) (totals, error) {
	var t totals
	for _, d := range daily {
		t.dailyVol = t.dailyVol.Add(d.TotalUSDVolume)
		t.dailyTxns += d.Transactions
	}
	for _, p := range projects {
		t.projectVol = t.projectVol.Add(p.TotalProjectVolume)
		t.projectTxns += p.TotalTransactions
	}

	if t.dailyTxns != t.projectTxns {
		return t, fmt.Errorf("transaction counts differ: daily %v, project %v", t.dailyTxns, t.projectTxns)
	}
	tolerance := decimal.New(5, -3).Mul(decimal.NewFromInt(int64(len(daily) + len(projects) + 1)))
	if t.dailyVol.Sub(t.projectVol).Abs().GreaterThan(tolerance) {
		return t, fmt.Errorf("usd volumes differ: daily %v, project %v", t.dailyVol, t.projectVol)
	}
	if summary != nil && t.dailyVol.Sub(summary.TotalUSDVolume).Abs().GreaterThan(tolerance) {
		return t, fmt.Errorf("usd volume %v doesn't match summary %v", t.dailyVol, summary.TotalUSDVolume)
	}
	return t, nil
}
