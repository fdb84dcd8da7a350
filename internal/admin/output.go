package admin

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/gloriousnetworker/nysc-backend/internal/services"
)

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func statusView(s *services.RegistrationStatus) map[string]interface{} {
	view := map[string]interface{}{
		"status":    s.Status,
		"email":     s.Email,
		"stateCode": s.StateCode,
		"name":      s.Name,
	}
	if s.Status == services.RegistrationStatusPending {
		view["step"] = s.Step
	} else {
		view["twoFactorEnabled"] = s.TwoFactorEnabled
	}
	return view
}

func writeStatus(out io.Writer, s *services.RegistrationStatus) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Status:\t%s\n", s.Status)
	fmt.Fprintf(w, "Email:\t%s\n", s.Email)
	fmt.Fprintf(w, "State Code:\t%s\n", s.StateCode)
	fmt.Fprintf(w, "Name:\t%s\n", s.Name)
	if s.Status == services.RegistrationStatusPending {
		fmt.Fprintf(w, "Step:\t%d\n", s.Step)
	} else {
		fmt.Fprintf(w, "2FA:\t%s\n", onOff(s.TwoFactorEnabled))
	}
	w.Flush()
}

func onOff(v bool) string {
	if v {
		return "enabled"
	}
	return "disabled"
}
