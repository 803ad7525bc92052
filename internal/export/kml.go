// Package export renders stored samples for people and other tools: a
// tab-separated dump, a KML track and GeoJSON.
package export

import (
	"encoding/xml"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"boat_tracker/internal/storage"
	"boat_tracker/internal/tzoffset"
)

// KML structures for XML marshalling, following KML 2.2.

// KML is the root element of a KML document.
type KML struct {
	XMLName   xml.Name `xml:"kml"`
	Namespace string   `xml:"xmlns,attr"`
	Document  Document `xml:"Document"`
}

// Document contains the document metadata and features.
type Document struct {
	Name        string      `xml:"name"`
	Description string      `xml:"description,omitempty"`
	Styles      []Style     `xml:"Style,omitempty"`
	Placemarks  []Placemark `xml:"Placemark"`
}

// Style defines the visual appearance of features.
type Style struct {
	ID        string     `xml:"id,attr"`
	IconStyle *IconStyle `xml:"IconStyle,omitempty"`
	LineStyle *LineStyle `xml:"LineStyle,omitempty"`
}

// IconStyle defines how icons are displayed.
type IconStyle struct {
	Scale float64 `xml:"scale,omitempty"`
	Icon  Icon    `xml:"Icon"`
}

// Icon specifies the icon image.
type Icon struct {
	Href string `xml:"href"`
}

// LineStyle defines how the track is drawn. Color is aabbggrr.
type LineStyle struct {
	Color string  `xml:"color"`
	Width float64 `xml:"width"`
}

// Placemark is a point sample or the track line.
type Placemark struct {
	Name         string        `xml:"name"`
	Description  string        `xml:"description,omitempty"`
	TimeStamp    *TimeStamp    `xml:"TimeStamp,omitempty"`
	StyleURL     string        `xml:"styleUrl,omitempty"`
	Point        *Point        `xml:"Point,omitempty"`
	LineString   *LineString   `xml:"LineString,omitempty"`
	ExtendedData *ExtendedData `xml:"ExtendedData,omitempty"`
}

// TimeStamp marks when a placemark was observed.
type TimeStamp struct {
	When string `xml:"when"`
}

// Point represents a geographic location.
type Point struct {
	Coordinates string `xml:"coordinates"` // lon,lat,altitude
}

// LineString is an ordered path.
type LineString struct {
	Tessellate   int    `xml:"tessellate"`
	AltitudeMode string `xml:"altitudeMode"`
	Coordinates  string `xml:"coordinates"` // space separated lon,lat,altitude
}

// ExtendedData holds custom data associated with a placemark.
type ExtendedData struct {
	Data []Data `xml:"Data"`
}

// Data represents a single piece of extended data.
type Data struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value"`
}

// Track builds a KML document with the samples joined into one line plus a
// placemark per sample. Samples should be in time order.
func Track(name string, samples []storage.Sample, generated time.Time) KML {
	coords := make([]string, len(samples))
	placemarks := make([]Placemark, 0, len(samples)+1)
	placemarks = append(placemarks, Placemark{})

	for i, s := range samples {
		coords[i] = coordinate(s)

		local := tzoffset.WallClock(s.Timestamp)
		pm := Placemark{
			Name:        local.Format(time.DateTime),
			Description: fmt.Sprintf("%s (%s)", local.Format(time.DateTime), s.TZOffset),
			StyleURL:    "#sampleStyle",
			Point:       &Point{Coordinates: coords[i]},
			ExtendedData: &ExtendedData{
				Data: sampleData(s),
			},
		}
		if utc, err := tzoffset.Unshift(s.Timestamp, s.TZOffset); err == nil {
			pm.TimeStamp = &TimeStamp{When: utc.Format(time.RFC3339)}
		}
		placemarks = append(placemarks, pm)
	}

	placemarks[0] = Placemark{
		Name:     "Track",
		StyleURL: "#trackStyle",
		LineString: &LineString{
			Tessellate:   1,
			AltitudeMode: "clampToGround",
			Coordinates:  strings.Join(coords, " "),
		},
	}

	return KML{
		Namespace: "http://www.opengis.net/kml/2.2",
		Document: Document{
			Name:        name,
			Description: fmt.Sprintf("%d samples. Generated %s.", len(samples), generated.Format(time.DateTime)),
			Styles: []Style{
				{
					ID:        "trackStyle",
					LineStyle: &LineStyle{Color: "ff0000ff", Width: 3},
				},
				{
					ID: "sampleStyle",
					IconStyle: &IconStyle{
						Scale: 0.5,
						Icon: Icon{
							Href: "http://maps.google.com/mapfiles/kml/shapes/placemark_circle.png",
						},
					},
				},
			},
			Placemarks: placemarks,
		},
	}
}

// WriteKML writes k as an indented XML document.
func WriteKML(w io.Writer, k KML) error {
	data, err := xml.MarshalIndent(k, "", "  ")
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err = io.WriteString(w, "\n")
	return err
}

// KML coordinates are longitude,latitude,altitude.
func coordinate(s storage.Sample) string {
	return fmt.Sprintf("%.6f,%.6f,%.1f", s.Longitude, s.Latitude, s.Altitude)
}

func sampleData(s storage.Sample) []Data {
	data := []Data{
		{Name: "id", Value: strconv.FormatInt(s.ID, 10)},
		{Name: "tz_offset", Value: s.TZOffset},
	}
	for _, f := range telemetryFields(s) {
		if f.value.Valid {
			data = append(data, Data{Name: f.name, Value: formatFloat(f.value.Float64)})
		}
	}
	return data
}
