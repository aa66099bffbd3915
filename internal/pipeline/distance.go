package pipeline

import "track-svr/internal/model"

// ApplyDistance sets the distance from last, in meters, and the running
// total. Both are rounded to two decimals. Without last the distance is 0.
func ApplyDistance(p, last *model.Position) {
	var distance, total float64
	if last != nil {
		distance = model.Round2(model.Distance(last.Latitude, last.Longitude, p.Latitude, p.Longitude))
		total = last.Attributes.Float(model.KeyTotalDistance)
	}
	p.Set(model.KeyDistance, distance)
	p.Set(model.KeyTotalDistance, model.Round2(total+distance))
}
