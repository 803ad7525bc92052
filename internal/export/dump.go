package export

import (
	"database/sql"
	"io"
	"strconv"
	"strings"
	"time"

	"boat_tracker/internal/storage"
	"boat_tracker/internal/tzoffset"
)

// Columns are the stored column names in table order.
var Columns = []string{
	"id", "tz_offset", "utc_shifted_tstamp", "latitude", "longitude", "altitude",
	"rpm", "engine_hours", "coolant_temp", "alternator_voltage", "uploaded",
}

type field struct {
	name  string
	value sql.NullFloat64
}

func telemetryFields(s storage.Sample) []field {
	return []field{
		{"rpm", s.RPM},
		{"engine_hours", s.EngineHours},
		{"coolant_temp", s.CoolantTemp},
		{"alternator_voltage", s.AlternatorVoltage},
	}
}

// WriteTSV writes a header row then one tab-separated row per sample. The
// shifted timestamp is rendered as local wall-clock time and absent
// telemetry as an empty cell.
func WriteTSV(w io.Writer, samples []storage.Sample) error {
	if _, err := io.WriteString(w, strings.Join(Columns, "\t")+"\n"); err != nil {
		return err
	}

	row := make([]string, 0, len(Columns))
	for _, s := range samples {
		row = append(row[:0],
			strconv.FormatInt(s.ID, 10),
			s.TZOffset,
			tzoffset.WallClock(s.Timestamp).Format(time.DateTime),
			formatFloat(s.Latitude),
			formatFloat(s.Longitude),
			formatFloat(s.Altitude),
		)
		for _, f := range telemetryFields(s) {
			if f.value.Valid {
				row = append(row, formatFloat(f.value.Float64))
			} else {
				row = append(row, "")
			}
		}
		if s.Uploaded {
			row = append(row, "1")
		} else {
			row = append(row, "0")
		}

		if _, err := io.WriteString(w, strings.Join(row, "\t")+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
