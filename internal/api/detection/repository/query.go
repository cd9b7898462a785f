package detectionRepository

const (
	queryCreateDetection = `
		INSERT INTO cap_detections (
			id,
			cap_id,
			created_at,
			predictions,
			image_path,
			source
		) VALUES (
			:id,
			:cap_id,
			:created_at,
			CAST(:predictions AS jsonb),
			:image_path,
			:source
		)
	`

	queryGetDetections = `
		SELECT
			id,
			cap_id,
			created_at,
			predictions,
			image_path,
			source
		FROM cap_detections
		ORDER BY created_at DESC, id DESC
	`

	queryGetDetectionsByCapID = `
		SELECT
			id,
			cap_id,
			created_at,
			predictions,
			image_path,
			source
		FROM cap_detections
		WHERE cap_id = :cap_id
		ORDER BY created_at ASC, id ASC
	`

	queryExistsByCapID = `
		SELECT EXISTS (
			SELECT 1 FROM cap_detections WHERE cap_id = :cap_id
		)
	`

	queryCountDetections = `
		SELECT COUNT(*) FROM cap_detections
	`

	queryGetDefectedDetections = `
		SELECT
			id,
			cap_id,
			created_at,
			predictions,
			image_path,
			source
		FROM cap_detections
		WHERE EXISTS (
			SELECT 1
			FROM jsonb_array_elements(predictions) AS p
			WHERE p->>'class' IS DISTINCT FROM :pass_class
		)
		ORDER BY created_at DESC, id DESC
	`

	queryDeleteByCapID = `
		DELETE FROM cap_detections
		WHERE cap_id = :cap_id
	`
)
