//go:build windows

package listener

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// winrtToastSource reaches the WinRT UserNotificationListener through
// PowerShell. There is no supported Go binding for the notification history
// API, so we drive the WinRT projection from a script and read JSON back,
// the same way the service drives systemctl on Linux hosts.
type winrtToastSource struct{}

func newToastSource() toastSource { return &winrtToastSource{} }

// awaitHelper bridges WinRT IAsyncOperation into a .NET task PowerShell can
// block on.
const awaitHelper = `
Add-Type -AssemblyName System.Runtime.WindowsRuntime
$asTaskGeneric = ([System.WindowsRuntimeSystemExtensions].GetMethods() | Where-Object { $_.Name -eq 'AsTask' -and $_.GetParameters().Count -eq 1 -and $_.GetParameters()[0].ParameterType.Name -eq 'IAsyncOperation` + "`" + `1' })[0]
function Await($winRtTask, $resultType) {
  $asTask = $asTaskGeneric.MakeGenericMethod($resultType)
  $netTask = $asTask.Invoke($null, @($winRtTask))
  $netTask.Wait(-1) | Out-Null
  $netTask.Result
}
$null = [Windows.UI.Notifications.Management.UserNotificationListener,Windows.UI.Notifications,ContentType=WindowsRuntime]
$null = [Windows.UI.Notifications.NotificationKinds,Windows.UI.Notifications,ContentType=WindowsRuntime]
$listener = [Windows.UI.Notifications.Management.UserNotificationListener]::Current
`

const requestAccessScript = awaitHelper + `
$status = Await ($listener.RequestAccessAsync()) ([Windows.UI.Notifications.Management.UserNotificationListenerAccessStatus])
Write-Output $status.ToString()
`

const listToastsScript = awaitHelper + `
$toasts = Await ($listener.GetNotificationsAsync([Windows.UI.Notifications.NotificationKinds]::Toast)) ([System.Collections.Generic.IReadOnlyList[Windows.UI.Notifications.UserNotification]])
$items = @()
foreach ($n in $toasts) {
  $app = ''
  try { $app = $n.AppInfo.DisplayInfo.DisplayName } catch {}
  $texts = @(); $fallback = @()
  try {
    $binding = $n.Notification.Visual.GetBinding([Windows.UI.Notifications.KnownNotificationBindings]::ToastGeneric)
    if ($binding) { $texts = @($binding.GetTextElements() | ForEach-Object { $_.Text }) }
  } catch {}
  try {
    $bindings = $n.Notification.Visual.Bindings
    if ($bindings -and $bindings.Count -gt 0) { $fallback = @($bindings[0].GetTextElements() | ForEach-Object { $_.Text }) }
  } catch {}
  $items += [pscustomobject]@{ id = $n.Id; app = $app; texts = $texts; fallback_texts = $fallback }
}
ConvertTo-Json -Compress -Depth 4 @($items)
`

func (s *winrtToastSource) RequestAccess(ctx context.Context) error {
	out, err := runPowerShell(ctx, requestAccessScript)
	if err != nil {
		return fmt.Errorf("requesting listener access: %w", err)
	}
	status := strings.TrimSpace(out)
	if !strings.EqualFold(status, "Allowed") {
		return fmt.Errorf("%w: access status %q (enable notification access under Settings > Privacy > Notifications)", ErrAccessDenied, status)
	}
	return nil
}

type toastRecord struct {
	ID            uint32   `json:"id"`
	App           string   `json:"app"`
	Texts         []string `json:"texts"`
	FallbackTexts []string `json:"fallback_texts"`
}

func (s *winrtToastSource) ActiveToasts(ctx context.Context) ([]Toast, error) {
	out, err := runPowerShell(ctx, listToastsScript)
	if err != nil {
		return nil, fmt.Errorf("listing toasts: %w", err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return nil, nil
	}

	// ConvertTo-Json unwraps single-element arrays on older PowerShell.
	var recs []toastRecord
	if strings.HasPrefix(out, "{") {
		var one toastRecord
		if err := json.Unmarshal([]byte(out), &one); err != nil {
			return nil, fmt.Errorf("decoding toast list: %w", err)
		}
		recs = []toastRecord{one}
	} else if err := json.Unmarshal([]byte(out), &recs); err != nil {
		return nil, fmt.Errorf("decoding toast list: %w", err)
	}

	toasts := make([]Toast, 0, len(recs))
	for _, r := range recs {
		toasts = append(toasts, Toast{
			ID:            r.ID,
			AppName:       r.App,
			Texts:         r.Texts,
			FallbackTexts: r.FallbackTexts,
		})
	}
	return toasts, nil
}

func runPowerShell(ctx context.Context, script string) (string, error) {
	cmd := exec.CommandContext(ctx, "powershell.exe",
		"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-Command", script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && stderr.Len() > 0 {
			return "", fmt.Errorf("powershell: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return "", fmt.Errorf("powershell: %w", err)
	}
	return stdout.String(), nil
}
