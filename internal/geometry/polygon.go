package geometry

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/danielmh111/police-data-scraper/pkg/logging"
	"github.com/danielmh111/police-data-scraper/pkg/metrics"
)

// Point represents a 2D point with latitude and longitude
type Point struct {
	Lat float64
	Lon float64
}

// Ring is an ordered sequence of vertices forming a closed polygon
// boundary. Order matters: a reordered ring self-intersects.
type Ring []Point

// GeometryError represents a degenerate or invalid boundary. It is fatal
// for the affected area only, never for the whole run.
type GeometryError struct {
	Area    string
	Message string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("boundary %s: %s", e.Area, e.Message)
}

// IsTransient returns false as geometry errors are permanent
func (e *GeometryError) IsTransient() bool {
	return false
}

// geoJSONGeometry is the nested-array geometry envelope boundary files are
// stored in. GeoJSON positions are longitude-first.
type geoJSONGeometry struct {
	Type        string         `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

// BoundarySource supplies named area boundaries to the pipeline
type BoundarySource interface {
	Areas() ([]string, error)
	Boundary(area string) (Ring, error)
}

// FileBoundarySource reads one .geojson file per area from a directory.
// The file basename is the area identifier.
type FileBoundarySource struct {
	dir string
}

// NewFileBoundarySource creates a boundary source over a directory
func NewFileBoundarySource(dir string) *FileBoundarySource {
	return &FileBoundarySource{dir: dir}
}

// Areas lists the area identifiers available in the directory
func (f *FileBoundarySource) Areas() ([]string, error) {
	files, err := filepath.Glob(filepath.Join(f.dir, "*.geojson"))
	if err != nil {
		return nil, fmt.Errorf("failed to read boundary directory: %w", err)
	}

	areas := make([]string, 0, len(files))
	for _, file := range files {
		name := filepath.Base(file)
		areas = append(areas, strings.TrimSuffix(name, ".geojson"))
	}

	return areas, nil
}

// Boundary loads and parses the ring for one area. GeoJSON stores
// positions longitude-first; the API wants latitude-first, so the axes are
// swapped exactly once, here.
func (f *FileBoundarySource) Boundary(area string) (Ring, error) {
	path := filepath.Join(f.dir, area+".geojson")

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read boundary file: %w", err)
	}

	var geom geoJSONGeometry
	if err := json.Unmarshal(data, &geom); err != nil {
		return nil, fmt.Errorf("failed to parse boundary file %s: %w", path, err)
	}

	if len(geom.Coordinates) == 0 || len(geom.Coordinates[0]) == 0 {
		return nil, &GeometryError{Area: area, Message: "geometry has no exterior ring"}
	}

	ring := make(Ring, 0, len(geom.Coordinates[0]))
	for _, pos := range geom.Coordinates[0] {
		ring = append(ring, Point{Lat: pos[1], Lon: pos[0]})
	}

	return ring, nil
}

// maxSimplifyIterations caps the tolerance-growth loop. The loop terminates
// on its own because tolerance strictly increases until the ring collapses
// to a triangle; the cap is only a backstop.
const maxSimplifyIterations = 100

// initialTolerance is the starting decimation tolerance in degrees
const initialTolerance = 0.000001

// Simplifier reduces a boundary ring to a coordinate string short enough
// for a request URL while preserving the boundary's shape.
type Simplifier struct {
	precision int
	maxLength int
	logger    *logging.StructuredLogger
	metrics   *metrics.Collector
}

// NewSimplifier creates a simplifier. Precision is the number of decimal
// digits coordinates are rounded to (5 digits is roughly metre accuracy,
// 4 is ten metres); maxLength is the encoded string ceiling.
func NewSimplifier(precision, maxLength int, logger *logging.StructuredLogger, metricsCollector *metrics.Collector) *Simplifier {
	return &Simplifier{
		precision: precision,
		maxLength: maxLength,
		logger:    logger,
		metrics:   metricsCollector,
	}
}

// PolyString converts a boundary ring into the poly request parameter: a
// colon-separated list of "lat,lon" pairs no longer than the configured
// ceiling. Vertices are rounded and deduplicated first; if the encoding is
// still too long the ring is decimated with a growing tolerance until it
// fits. Returns a GeometryError when fewer than 3 distinct vertices remain
// after rounding.
func (s *Simplifier) PolyString(ctx context.Context, area string, ring Ring) (string, error) {
	rounded := s.roundAndDedupe(ring)

	if len(rounded) < 3 {
		return "", &GeometryError{
			Area:    area,
			Message: fmt.Sprintf("only %d distinct vertices after rounding, need at least 3", len(rounded)),
		}
	}

	encoded := encodePoly(rounded)
	tolerance := initialTolerance
	iterations := 0

	for len(encoded) > s.maxLength {
		if iterations >= maxSimplifyIterations {
			return "", &GeometryError{
				Area:    area,
				Message: fmt.Sprintf("could not simplify below %d characters in %d iterations", s.maxLength, iterations),
			}
		}

		rounded = decimate(rounded, tolerance)
		encoded = encodePoly(rounded)
		tolerance *= 1.25
		iterations++
	}

	s.metrics.SimplifyIterations.Observe(float64(iterations))
	s.metrics.PolyStringLength.Observe(float64(len(encoded)))

	s.logger.Debug(ctx, "[GEOMETRY_SIMPLIFIED] Boundary encoded", logging.Fields{
		"area":           area,
		"input_vertices": len(ring),
		"kept_vertices":  len(rounded),
		"encoded_length": len(encoded),
		"iterations":     iterations,
	})

	return encoded, nil
}

// roundAndDedupe rounds every vertex to the configured precision and drops
// duplicate rounded vertices while preserving original order. The closing
// vertex, being a duplicate of the first, is dropped with the rest.
func (s *Simplifier) roundAndDedupe(ring Ring) Ring {
	factor := math.Pow(10, float64(s.precision))

	seen := make(map[Point]bool, len(ring))
	out := make(Ring, 0, len(ring))

	for _, p := range ring {
		r := Point{
			Lat: math.Round(p.Lat*factor) / factor,
			Lon: math.Round(p.Lon*factor) / factor,
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}

	return out
}

// encodePoly renders a ring as "lat,lon" pairs joined by ":" in ring order
func encodePoly(ring Ring) string {
	var b strings.Builder

	for i, p := range ring {
		if i > 0 {
			b.WriteByte(':')
		}
		b.WriteString(strconv.FormatFloat(p.Lat, 'f', -1, 64))
		b.WriteByte(',')
		b.WriteString(strconv.FormatFloat(p.Lon, 'f', -1, 64))
	}

	return b.String()
}

// ParsePoly splits an encoded coordinate string back into a ring. Used by
// tests and diagnostics; the collection path never needs to decode.
func ParsePoly(encoded string) (Ring, error) {
	if encoded == "" {
		return nil, fmt.Errorf("empty coordinate string")
	}

	pairs := strings.Split(encoded, ":")
	ring := make(Ring, 0, len(pairs))

	for _, pair := range pairs {
		parts := strings.SplitN(pair, ",", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("malformed coordinate pair %q", pair)
		}

		lat, err := strconv.ParseFloat(parts[0], 64)
		if err != nil {
			return nil, fmt.Errorf("malformed latitude %q: %w", parts[0], err)
		}

		lon, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return nil, fmt.Errorf("malformed longitude %q: %w", parts[1], err)
		}

		ring = append(ring, Point{Lat: lat, Lon: lon})
	}

	return ring, nil
}

// decimate applies one Douglas-Peucker pass over the ring at the given
// tolerance. The first and last vertices are anchored, so ring order is
// preserved and the result never drops below 3 vertices.
func decimate(ring Ring, tolerance float64) Ring {
	if len(ring) <= 3 {
		return ring
	}

	keep := make([]bool, len(ring))
	keep[0] = true
	keep[len(ring)-1] = true
	douglasPeucker(ring, 0, len(ring)-1, tolerance, keep)

	out := make(Ring, 0, len(ring))
	for i, k := range keep {
		if k {
			out = append(out, ring[i])
		}
	}

	// A ring needs an interior vertex between the two anchors to stay a
	// valid polygon; put back the one that deviates most.
	if len(out) < 3 {
		idx, _ := farthestFromSegment(ring, 0, len(ring)-1)
		keep[idx] = true

		out = out[:0]
		for i, k := range keep {
			if k {
				out = append(out, ring[i])
			}
		}
	}

	return out
}

// douglasPeucker marks the vertices to keep between first and last
func douglasPeucker(ring Ring, first, last int, tolerance float64, keep []bool) {
	if last <= first+1 {
		return
	}

	idx, dist := farthestFromSegment(ring, first, last)
	if dist <= tolerance {
		return
	}

	keep[idx] = true
	douglasPeucker(ring, first, idx, tolerance, keep)
	douglasPeucker(ring, idx, last, tolerance, keep)
}

// farthestFromSegment finds the interior vertex with the greatest
// perpendicular distance from the segment (first, last)
func farthestFromSegment(ring Ring, first, last int) (int, float64) {
	maxIdx := first + 1
	maxDist := -1.0

	for i := first + 1; i < last; i++ {
		d := perpendicularDistance(ring[i], ring[first], ring[last])
		if d > maxDist {
			maxDist = d
			maxIdx = i
		}
	}

	return maxIdx, maxDist
}

// perpendicularDistance is the planar distance from p to the line through
// a and b, in degrees. Tolerances are small enough that treating lat/lon
// as planar coordinates is fine at city scale.
func perpendicularDistance(p, a, b Point) float64 {
	dx := b.Lon - a.Lon
	dy := b.Lat - a.Lat

	if dx == 0 && dy == 0 {
		return math.Hypot(p.Lon-a.Lon, p.Lat-a.Lat)
	}

	// Project p onto the segment, clamped to the endpoints
	t := ((p.Lon-a.Lon)*dx + (p.Lat-a.Lat)*dy) / (dx*dx + dy*dy)
	t = math.Max(0, math.Min(1, t))

	nearest := Point{
		Lat: a.Lat + t*dy,
		Lon: a.Lon + t*dx,
	}

	return math.Hypot(p.Lon-nearest.Lon, p.Lat-nearest.Lat)
}

// BoundingBox calculates the bounding box of a ring.
// Returns (minLat, minLon, maxLat, maxLon).
func BoundingBox(ring Ring) (float64, float64, float64, float64) {
	if len(ring) == 0 {
		return 0, 0, 0, 0
	}

	minLat, maxLat := ring[0].Lat, ring[0].Lat
	minLon, maxLon := ring[0].Lon, ring[0].Lon

	for _, p := range ring[1:] {
		if p.Lat < minLat {
			minLat = p.Lat
		}
		if p.Lat > maxLat {
			maxLat = p.Lat
		}
		if p.Lon < minLon {
			minLon = p.Lon
		}
		if p.Lon > maxLon {
			maxLon = p.Lon
		}
	}

	return minLat, minLon, maxLat, maxLon
}
