package tabular

import (
	"encoding/json"
	"fmt"
)

func errNotObject(i int, item interface{}) error {
	return fmt.Errorf("element %d is %T, want object", i, item)
}

func errUnsupported(v interface{}) error {
	return fmt.Errorf("cannot tabulate %T", v)
}

func errRagged(column string) error {
	return fmt.Errorf("column %s: all columns must be lists of the same length", column)
}

// preview renders at most 100 bytes of v for error messages.
func preview(v interface{}) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%T", v)
	}
	if len(raw) > 100 {
		return string(raw[:100]) + "..."
	}
	return string(raw)
}
