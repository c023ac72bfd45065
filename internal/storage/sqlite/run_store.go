package sqlite

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/vislam/internal/cameras"
	"github.com/banshee-data/vislam/internal/frames"
	"github.com/banshee-data/vislam/internal/graph"
	"github.com/banshee-data/vislam/internal/imu"
	"github.com/banshee-data/vislam/internal/kinematics"
	"github.com/banshee-data/vislam/internal/landmarks"
	"github.com/banshee-data/vislam/internal/monitoring"
)

var (
	// ErrNoRun is returned by LoadRun on a database without a saved run.
	ErrNoRun = errors.New("database holds no run")
	// ErrUnsupportedCamera is returned when saving a geometry the store
	// cannot describe.
	ErrUnsupportedCamera = errors.New("unsupported camera geometry")
)

var logf = monitoring.Prefixed("[sqlite] ")

// Snapshot is everything a SLAM run persists.
type Snapshot struct {
	RunID       string
	CreatedAt   time.Time
	Imu         imu.Parameters
	Cameras     *cameras.NCameraSystem
	Graph       *graph.Graph
	MultiFrames map[graph.StateID]*frames.MultiFrame
}

// RunStore reads and writes one run in a SQLite file.
type RunStore struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*RunStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	s := &RunStore{db: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *RunStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *RunStore) Path() string { return s.path }

// SaveRun replaces the stored run with snap.
func (s *RunStore) SaveRun(snap *Snapshot) (err error) {
	if snap == nil || snap.Cameras == nil || snap.Graph == nil {
		return errors.New("save run: snapshot needs cameras and a graph")
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	for _, table := range []string{
		"keypoints", "multiframes", "relative_pose_constraints", "landmarks",
		"states", "cameras", "imu_parameters", "runs",
	} {
		if _, err = tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	created := snap.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	if _, err = tx.Exec(`INSERT INTO runs (run_id, created_at, saved_at) VALUES (?, ?, ?)`,
		snap.RunID, created.UnixNano(), time.Now().UnixNano()); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	if err = insertImu(tx, snap.RunID, snap.Imu); err != nil {
		return err
	}
	if err = insertCameras(tx, snap.Cameras); err != nil {
		return err
	}
	if err = insertGraph(tx, snap.Graph); err != nil {
		return err
	}
	if err = insertMultiFrames(tx, snap.MultiFrames); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	logf("saved run %s to %s: %d states, %d landmarks, %d constraints, %d frames",
		snap.RunID, s.path, snap.Graph.NumStates(), snap.Graph.Landmarks().Len(),
		len(snap.Graph.Constraints()), len(snap.MultiFrames))
	return nil
}

// LoadRun reads the stored run. The returned graph and frames are new
// objects owned by the caller.
func (s *RunStore) LoadRun() (*Snapshot, error) {
	snap := &Snapshot{MultiFrames: make(map[graph.StateID]*frames.MultiFrame)}
	var createdNs int64
	err := s.db.QueryRow(`SELECT run_id, created_at FROM runs LIMIT 1`).Scan(&snap.RunID, &createdNs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoRun
	}
	if err != nil {
		return nil, fmt.Errorf("query run: %w", err)
	}
	snap.CreatedAt = time.Unix(0, createdNs)

	if snap.Imu, err = s.loadImu(snap.RunID); err != nil {
		return nil, err
	}
	if snap.Cameras, err = s.loadCameras(); err != nil {
		return nil, err
	}
	if snap.Graph, err = s.loadGraph(); err != nil {
		return nil, err
	}
	if snap.MultiFrames, err = s.loadMultiFrames(snap.Cameras); err != nil {
		return nil, err
	}
	logf("loaded run %s from %s: %d states, %d frames",
		snap.RunID, s.path, snap.Graph.NumStates(), len(snap.MultiFrames))
	return snap, nil
}

func insertImu(tx *sql.Tx, runID string, p imu.Parameters) error {
	g0, err := json.Marshal([]float64{p.GyroBiasPrior.X, p.GyroBiasPrior.Y, p.GyroBiasPrior.Z})
	if err != nil {
		return err
	}
	a0, err := json.Marshal([]float64{p.AccelBiasPrior.X, p.AccelBiasPrior.Y, p.AccelBiasPrior.Z})
	if err != nil {
		return err
	}
	tbs, err := marshalPose(p.T_BS)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO imu_parameters (
			run_id, a_max, g_max, sigma_g_c, sigma_a_c, sigma_bg, sigma_ba,
			sigma_gw_c, sigma_aw_c, g, g0_json, a0_json, rate, t_bs_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, p.AccelerationMax, p.AngularRateMax, p.SigmaGyroC, p.SigmaAccelC,
		p.SigmaGyroBias, p.SigmaAccelBias, p.SigmaGyroDriftC, p.SigmaAccelDriftC,
		p.Gravity, string(g0), string(a0), p.Rate, tbs,
	)
	if err != nil {
		return fmt.Errorf("insert imu parameters: %w", err)
	}
	return nil
}

func (s *RunStore) loadImu(runID string) (imu.Parameters, error) {
	var p imu.Parameters
	var g0, a0, tbs string
	err := s.db.QueryRow(`
		SELECT a_max, g_max, sigma_g_c, sigma_a_c, sigma_bg, sigma_ba,
		       sigma_gw_c, sigma_aw_c, g, g0_json, a0_json, rate, t_bs_json
		FROM imu_parameters WHERE run_id = ?`, runID).Scan(
		&p.AccelerationMax, &p.AngularRateMax, &p.SigmaGyroC, &p.SigmaAccelC,
		&p.SigmaGyroBias, &p.SigmaAccelBias, &p.SigmaGyroDriftC, &p.SigmaAccelDriftC,
		&p.Gravity, &g0, &a0, &p.Rate, &tbs,
	)
	if err != nil {
		return p, fmt.Errorf("query imu parameters: %w", err)
	}
	if p.GyroBiasPrior, err = unmarshalVec(g0); err != nil {
		return p, fmt.Errorf("imu g0: %w", err)
	}
	if p.AccelBiasPrior, err = unmarshalVec(a0); err != nil {
		return p, fmt.Errorf("imu a0: %w", err)
	}
	if p.T_BS, err = unmarshalPose(tbs); err != nil {
		return p, fmt.Errorf("imu T_BS: %w", err)
	}
	return p, nil
}

func insertCameras(tx *sql.Tx, sys *cameras.NCameraSystem) error {
	for i := 0; i < sys.NumCameras(); i++ {
		g, err := sys.Geometry(i)
		if err != nil {
			return err
		}
		pin, ok := g.(*cameras.PinholeCamera)
		if !ok {
			return fmt.Errorf("camera %d: %w: %T", i, ErrUnsupportedCamera, g)
		}
		T_SC, err := sys.T_SC(i)
		if err != nil {
			return err
		}
		tsc, err := marshalPose(T_SC)
		if err != nil {
			return err
		}
		dist, err := json.Marshal(pin.Distortion().Parameters())
		if err != nil {
			return err
		}
		_, err = tx.Exec(`
			INSERT INTO cameras (
				camera_index, width, height, fu, fv, cu, cv,
				distortion_type, distortion_json, t_sc_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			i, pin.Width(), pin.Height(), pin.FocalLengthU(), pin.FocalLengthV(),
			pin.ImageCenterU(), pin.ImageCenterV(),
			pin.DistortionType().String(), string(dist), tsc,
		)
		if err != nil {
			return fmt.Errorf("insert camera %d: %w", i, err)
		}
	}
	return nil
}

func (s *RunStore) loadCameras() (*cameras.NCameraSystem, error) {
	rows, err := s.db.Query(`
		SELECT camera_index, width, height, fu, fv, cu, cv,
		       distortion_type, distortion_json, t_sc_json
		FROM cameras ORDER BY camera_index`)
	if err != nil {
		return nil, fmt.Errorf("query cameras: %w", err)
	}
	defer rows.Close()

	sys := cameras.NewNCameraSystem()
	for rows.Next() {
		var (
			idx, width, height  int
			fu, fv, cu, cv      float64
			distName, dist, tsc string
		)
		if err := rows.Scan(&idx, &width, &height, &fu, &fv, &cu, &cv, &distName, &dist, &tsc); err != nil {
			return nil, fmt.Errorf("scan camera: %w", err)
		}
		dt, err := cameras.ParseDistortionType(distName)
		if err != nil {
			return nil, fmt.Errorf("camera %d: %w", idx, err)
		}
		var params []float64
		if err := json.Unmarshal([]byte(dist), &params); err != nil {
			return nil, fmt.Errorf("camera %d distortion: %w", idx, err)
		}
		d, err := cameras.NewDistortion(dt, params)
		if err != nil {
			return nil, fmt.Errorf("camera %d: %w", idx, err)
		}
		cam, err := cameras.NewPinholeCamera(width, height, fu, fv, cu, cv, d)
		if err != nil {
			return nil, fmt.Errorf("camera %d: %w", idx, err)
		}
		T_SC, err := unmarshalPose(tsc)
		if err != nil {
			return nil, fmt.Errorf("camera %d T_SC: %w", idx, err)
		}
		got, err := sys.AddCamera(T_SC, cam)
		if err != nil {
			return nil, err
		}
		if got != idx {
			return nil, fmt.Errorf("camera indices are not contiguous: expected %d, found %d", got, idx)
		}
	}
	return sys, rows.Err()
}

func insertGraph(tx *sql.Tx, g *graph.Graph) error {
	for _, st := range g.States() {
		p := st.T_WS.Parameters()
		_, err := tx.Exec(`
			INSERT INTO states (state_id, timestamp_ns, tx, ty, tz, qx, qy, qz, qw)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			int64(st.ID), encodeTime(st.Timestamp), p[0], p[1], p[2], p[3], p[4], p[5], p[6],
		)
		if err != nil {
			return fmt.Errorf("insert state %d: %w", st.ID, err)
		}
	}

	lms := g.Landmarks()
	for _, id := range lms.IDs() {
		h, _ := lms.Landmark(id)
		if _, err := tx.Exec(`INSERT INTO landmarks (landmark_id, x, y, z, w) VALUES (?, ?, ?, ?, ?)`,
			int64(id), h[0], h[1], h[2], h[3]); err != nil {
			return fmt.Errorf("insert landmark %d: %w", id, err)
		}
	}

	for i, c := range g.Constraints() {
		meas, err := marshalPose(c.Error.Measurement())
		if err != nil {
			return err
		}
		info, err := json.Marshal(c.Error.Information().RawMatrix().Data)
		if err != nil {
			return err
		}
		_, err = tx.Exec(`
			INSERT INTO relative_pose_constraints (
				constraint_index, from_state, to_state, measurement_json, information_json
			) VALUES (?, ?, ?, ?, ?)`,
			i, int64(c.From), int64(c.To), meas, string(info),
		)
		if err != nil {
			return fmt.Errorf("insert constraint %d: %w", i, err)
		}
	}
	return nil
}

func (s *RunStore) loadGraph() (*graph.Graph, error) {
	g := graph.New()

	rows, err := s.db.Query(`
		SELECT state_id, timestamp_ns, tx, ty, tz, qx, qy, qz, qw
		FROM states ORDER BY state_id`)
	if err != nil {
		return nil, fmt.Errorf("query states: %w", err)
	}
	for rows.Next() {
		var id, ts int64
		var p [kinematics.ParameterDim]float64
		if err := rows.Scan(&id, &ts, &p[0], &p[1], &p[2], &p[3], &p[4], &p[5], &p[6]); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan state: %w", err)
		}
		if err := g.AddState(graph.StateID(id), decodeTime(ts), kinematics.TransformationFromParameters(p)); err != nil {
			rows.Close()
			return nil, err
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`SELECT landmark_id, x, y, z, w FROM landmarks`)
	if err != nil {
		return nil, fmt.Errorf("query landmarks: %w", err)
	}
	for rows.Next() {
		var id int64
		var h landmarks.HomogeneousPoint
		if err := rows.Scan(&id, &h[0], &h[1], &h[2], &h[3]); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan landmark: %w", err)
		}
		g.Landmarks().Set(landmarks.LandmarkID(id), h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`
		SELECT from_state, to_state, measurement_json, information_json
		FROM relative_pose_constraints ORDER BY constraint_index`)
	if err != nil {
		return nil, fmt.Errorf("query constraints: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var from, to int64
		var meas, info string
		if err := rows.Scan(&from, &to, &meas, &info); err != nil {
			return nil, fmt.Errorf("scan constraint: %w", err)
		}
		T_AB, err := unmarshalPose(meas)
		if err != nil {
			return nil, fmt.Errorf("constraint %d->%d measurement: %w", from, to, err)
		}
		var data []float64
		if err := json.Unmarshal([]byte(info), &data); err != nil {
			return nil, fmt.Errorf("constraint %d->%d information: %w", from, to, err)
		}
		if len(data) != 36 {
			return nil, fmt.Errorf("constraint %d->%d information has %d entries, want 36", from, to, len(data))
		}
		if _, err := g.AddRelativePoseConstraintWithInformation(graph.StateID(from), graph.StateID(to), T_AB, mat.NewDense(6, 6, data)); err != nil {
			return nil, err
		}
	}
	return g, rows.Err()
}

func insertMultiFrames(tx *sql.Tx, mfs map[graph.StateID]*frames.MultiFrame) error {
	ids := make([]graph.StateID, 0, len(mfs))
	for id := range mfs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, sid := range ids {
		f := mfs[sid]
		if _, err := tx.Exec(`INSERT INTO multiframes (state_id, frame_id, timestamp_ns) VALUES (?, ?, ?)`,
			int64(sid), int64(f.ID()), encodeTime(f.Timestamp())); err != nil {
			return fmt.Errorf("insert multiframe %d: %w", sid, err)
		}
		for cam := 0; cam < f.NumCameras(); cam++ {
			for k := 0; k < f.NumKeypoints(cam); k++ {
				kp, err := f.Keypoint(cam, k)
				if err != nil {
					return err
				}
				lm, err := f.LandmarkID(cam, k)
				if err != nil {
					return err
				}
				_, err = tx.Exec(`
					INSERT INTO keypoints (state_id, camera_index, keypoint_index, u, v, size, landmark_id)
					VALUES (?, ?, ?, ?, ?, ?, ?)`,
					int64(sid), cam, k, kp.Point.X, kp.Point.Y, kp.Size, int64(lm),
				)
				if err != nil {
					return fmt.Errorf("insert keypoint %d/%d/%d: %w", sid, cam, k, err)
				}
			}
		}
	}
	return nil
}

func (s *RunStore) loadMultiFrames(sys *cameras.NCameraSystem) (map[graph.StateID]*frames.MultiFrame, error) {
	out := make(map[graph.StateID]*frames.MultiFrame)
	rows, err := s.db.Query(`SELECT state_id, frame_id, timestamp_ns FROM multiframes ORDER BY state_id`)
	if err != nil {
		return nil, fmt.Errorf("query multiframes: %w", err)
	}
	for rows.Next() {
		var sid, fid, ts int64
		if err := rows.Scan(&sid, &fid, &ts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan multiframe: %w", err)
		}
		f, err := frames.NewMultiFrame(uint64(fid), decodeTime(ts), sys)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out[graph.StateID(sid)] = f
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(`
		SELECT state_id, camera_index, keypoint_index, u, v, size, landmark_id
		FROM keypoints ORDER BY state_id, camera_index, keypoint_index`)
	if err != nil {
		return nil, fmt.Errorf("query keypoints: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sid, lm int64
		var cam, k int
		var kp frames.Keypoint
		if err := rows.Scan(&sid, &cam, &k, &kp.Point.X, &kp.Point.Y, &kp.Size, &lm); err != nil {
			return nil, fmt.Errorf("scan keypoint: %w", err)
		}
		f, ok := out[graph.StateID(sid)]
		if !ok {
			return nil, fmt.Errorf("keypoint references unknown multiframe %d", sid)
		}
		if f.NumKeypoints(cam) != k {
			return nil, fmt.Errorf("multiframe %d cam %d: keypoint indices are not contiguous at %d", sid, cam, k)
		}
		if err := f.AddKeypoints(cam, []frames.Keypoint{kp}); err != nil {
			return nil, err
		}
		if err := f.SetLandmarkID(cam, k, landmarks.LandmarkID(lm)); err != nil {
			return nil, err
		}
	}
	return out, rows.Err()
}

func marshalPose(T kinematics.Transformation) (string, error) {
	p := T.Parameters()
	b, err := json.Marshal(p[:])
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalPose(s string) (kinematics.Transformation, error) {
	var p []float64
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return kinematics.Transformation{}, err
	}
	return kinematics.TransformationFromSlice(p)
}

func unmarshalVec(s string) (r3.Vec, error) {
	var v []float64
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return r3.Vec{}, err
	}
	if len(v) != 3 {
		return r3.Vec{}, fmt.Errorf("vector has %d entries, want 3", len(v))
	}
	return r3.Vec{X: v[0], Y: v[1], Z: v[2]}, nil
}

// encodeTime stores the zero time as 0 ns.
func encodeTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func decodeTime(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}
