// Package landmarks holds 3D landmark storage shared between the graph and
// its consumers.
package landmarks

import (
	"math"
	"sort"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"
)

// LandmarkID identifies a landmark. The zero value is reserved as "no landmark".
type LandmarkID uint64

// NullLandmarkID marks a keypoint without an associated landmark.
const NullLandmarkID LandmarkID = 0

// InfinityThreshold is the magnitude of the homogeneous coordinate below
// which a landmark is treated as lying at infinity.
const InfinityThreshold = 1.0e-8

// HomogeneousPoint is a 3D point (x, y, z, w) in homogeneous coordinates.
type HomogeneousPoint [4]float64

// NewHomogeneousPoint lifts a Euclidean point with w = 1.
func NewHomogeneousPoint(p r3.Vec) HomogeneousPoint {
	return HomogeneousPoint{p.X, p.Y, p.Z, 1}
}

// AtInfinity reports whether |w| is below threshold.
func (h HomogeneousPoint) AtInfinity(threshold float64) bool {
	return math.Abs(h[3]) < threshold
}

// Euclidean dehomogenises the point. The caller must check AtInfinity first.
func (h HomogeneousPoint) Euclidean() r3.Vec {
	return r3.Vec{X: h[0] / h[3], Y: h[1] / h[3], Z: h[2] / h[3]}
}

// Store is a read-only view of landmark positions.
type Store interface {
	Landmark(id LandmarkID) (HomogeneousPoint, bool)
}

// MapStore is a concurrency-safe in-memory Store.
type MapStore struct {
	mu     sync.RWMutex
	points map[LandmarkID]HomogeneousPoint
}

var _ Store = (*MapStore)(nil)

// NewMapStore returns an empty store.
func NewMapStore() *MapStore {
	return &MapStore{points: make(map[LandmarkID]HomogeneousPoint)}
}

// Set inserts or replaces a landmark.
func (s *MapStore) Set(id LandmarkID, p HomogeneousPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[id] = p
}

// Delete removes a landmark if present.
func (s *MapStore) Delete(id LandmarkID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.points, id)
}

// Landmark implements Store.
func (s *MapStore) Landmark(id LandmarkID) (HomogeneousPoint, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.points[id]
	return p, ok
}

// Len returns the number of stored landmarks.
func (s *MapStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

// IDs returns all landmark ids in ascending order.
func (s *MapStore) IDs() []LandmarkID {
	s.mu.RLock()
	ids := make([]LandmarkID, 0, len(s.points))
	for id := range s.points {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
