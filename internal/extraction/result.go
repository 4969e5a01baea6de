package extraction

import "github.com/shaibs3/pricewatch/internal/model"

// ExtractionResult is re-exported so callers of Fetch need not import model
type ExtractionResult = model.ExtractionResult
