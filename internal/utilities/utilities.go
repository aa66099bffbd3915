package utilities

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// CreateLog agrega una linea con hora a dir/<prefix>_<yyyymmdd>.log,
// creando la carpeta si no existe.
func CreateLog(dir, prefix, message string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}
	now := time.Now()
	filename := filepath.Join(dir, prefix+"_"+now.Format("20060102")+".log")

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(now.Format("15:04:05") + " - " + message + "\n"); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
