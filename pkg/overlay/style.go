// Package overlay loads boundary sources into overlay layers and keeps the
// rendered layers in step with the selected category.
package overlay

// Style is the stroke and fill of an overlay feature
type Style struct {
	Color       string  `json:"color"`
	Weight      float64 `json:"weight"`
	FillOpacity float64 `json:"fillOpacity"`
}

// SourceStyle is the style every feature of a source is first drawn with
func SourceStyle(color string) Style {
	return Style{Color: color, Weight: 2, FillOpacity: 0.1}
}

// HighlightStyle is applied to a feature when it is clicked. It is never reverted.
var HighlightStyle = Style{Color: "blue", Weight: 3, FillOpacity: 0.6}
