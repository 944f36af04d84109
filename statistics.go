package boltzmann

import (
	"encoding/csv"
	"os"
	"strconv"
)

// Statistics tracks the per-epoch reconstruction error of a training run.
type Statistics struct {
	Epochs []int
	RMSE   []float32
}

func makeStatistics() Statistics {
	return Statistics{
		Epochs: make([]int, 0, 64),
		RMSE:   make([]float32, 0, 64),
	}
}

func (s *Statistics) update(epoch int, rmse float32) {
	s.Epochs = append(s.Epochs, epoch)
	s.RMSE = append(s.RMSE, rmse)
}

// Dump writes the statistics into filename as CSV.
func (s *Statistics) Dump(filename string) error {
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	if err := w.Write([]string{"epoch", "rmse"}); err != nil {
		return err
	}
	var records [][]string
	for i, epoch := range s.Epochs {
		records = append(records, []string{
			strconv.Itoa(epoch),
			strconv.FormatFloat(float64(s.RMSE[i]), 'f', 5, 32),
		})
	}
	if err := w.WriteAll(records); err != nil {
		return err
	}
	w.Flush()
	return nil
}
