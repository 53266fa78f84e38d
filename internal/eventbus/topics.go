package eventbus

import "fmt"

// Fixed, non-symbol-keyed topics.
const (
	TopicAlert     = "alert"
	TopicAllBars   = "bar.sealed.all"
)

// BarTopic is the per-symbol topic carrying sealed-bar events.
func BarTopic(symbol string) string { return fmt.Sprintf("bar.%s", symbol) }

// SignalTopic is the per-symbol, per-classifier topic carrying signal events.
func SignalTopic(classifier, symbol string) string {
	return fmt.Sprintf("signal.%s.%s", classifier, symbol)
}

// ScaleProgressTopic carries chunk-progress events for one position.
func ScaleProgressTopic(positionID string) string {
	return fmt.Sprintf("scale.progress.%s", positionID)
}

// PositionTopic carries position-mutation events for one symbol.
func PositionTopic(symbol string) string { return fmt.Sprintf("position.%s", symbol) }
