// Package chart provides a render surface that draws the sample window as a
// PNG line chart, one series per channel, using go-chart.
//
// The Y axis spans the active bit width (0 to 2^bits-1). In grid view the
// chart gets major grid lines on both axes. Charts are kept in memory for
// Handler and, when Config.File is set, written to disk by rename so readers
// never see a partial image.
package chart
