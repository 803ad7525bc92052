package export

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"boat_tracker/internal/storage"
	"boat_tracker/internal/tzoffset"
)

// GeoJSON returns the samples as a feature collection: one LineString for
// the track followed by a Point per sample carrying its readings.
func GeoJSON(samples []storage.Sample) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	line := make(orb.LineString, len(samples))
	for i, s := range samples {
		line[i] = orb.Point{s.Longitude, s.Latitude}
	}
	track := geojson.NewFeature(line)
	track.Properties["name"] = "track"
	track.Properties["samples"] = len(samples)
	fc.Append(track)

	for _, s := range samples {
		f := geojson.NewFeature(orb.Point{s.Longitude, s.Latitude})
		f.ID = s.ID
		f.Properties["tz_offset"] = s.TZOffset
		f.Properties["local_time"] = tzoffset.WallClock(s.Timestamp).Format(time.DateTime)
		f.Properties["altitude"] = s.Altitude
		f.Properties["uploaded"] = s.Uploaded
		for _, tf := range telemetryFields(s) {
			if tf.value.Valid {
				f.Properties[tf.name] = tf.value.Float64
			}
		}
		fc.Append(f)
	}
	return fc
}
