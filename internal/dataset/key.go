// Package dataset implements the deduplicated master dataset merge.
package dataset

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"
	"strconv"
	"strings"
)

// DefaultToleranceMeters is the coordinate proximity within which two
// records with the same name are considered the same store.
const DefaultToleranceMeters = 50.0

const earthRadiusMeters = 6371000.0

// Record is one row of a result file, keyed by column name.
type Record map[string]string

// Key derives the stable deduplication key for a record: the Handle when
// present, else name plus address, else name plus exact coordinates, else a
// hash of all fields.
func Key(rec Record) string {
	if handle := strings.TrimSpace(rec["Handle"]); handle != "" {
		return "handle:" + handle
	}
	name := strings.ToLower(strings.TrimSpace(rec["Name"]))
	addr := strings.ToLower(strings.TrimSpace(rec["Address Line 1"]))
	city := strings.ToLower(strings.TrimSpace(rec["City"]))
	if name != "" && addr != "" {
		return fmt.Sprintf("name_addr:%s|%s|%s", name, addr, city)
	}
	lat := strings.TrimSpace(rec["Latitude"])
	lng := strings.TrimSpace(rec["Longitude"])
	if name != "" && lat != "" && lng != "" {
		return fmt.Sprintf("name_coords:%s|%s|%s", name, lat, lng)
	}
	// Field order must be canonical: map iteration order varies per range,
	// and the same record has to hash to the same key every time.
	fields := make([]string, 0, len(rec))
	for k := range rec {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	h := fnv.New64a()
	for _, k := range fields {
		h.Write([]byte(k))      //nolint:errcheck
		h.Write([]byte{0})      //nolint:errcheck
		h.Write([]byte(rec[k])) //nolint:errcheck
		h.Write([]byte{0xf})    //nolint:errcheck
	}
	return fmt.Sprintf("hash:%x", h.Sum64())
}

// Coordinates returns the record's parsed latitude/longitude.
func Coordinates(rec Record) (lat, lng float64, ok bool) {
	lat, errLat := strconv.ParseFloat(strings.TrimSpace(rec["Latitude"]), 64)
	lng, errLng := strconv.ParseFloat(strings.TrimSpace(rec["Longitude"]), 64)
	if errLat != nil || errLng != nil {
		return 0, 0, false
	}
	return lat, lng, true
}

// DistanceMeters computes the haversine distance between two coordinates.
func DistanceMeters(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := radians(lat2 - lat1)
	dLng := radians(lng2 - lng1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(radians(lat1))*math.Cos(radians(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(a))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
