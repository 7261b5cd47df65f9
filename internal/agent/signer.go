package agent

import (
	"strings"

	"github.com/gagliardetto/solana-go"

	xerrors "SolOracle-Chain/internal/errors"
)

// CodeSignerUnavailable 表示签名密钥缺失或无法读取。
const CodeSignerUnavailable xerrors.Code = "SIGNER_UNAVAILABLE"

// ErrSignerUnavailable 在未配置签名密钥时返回。
var ErrSignerUnavailable = xerrors.New(CodeSignerUnavailable, "signer keypair unavailable")

func init() {
	xerrors.Register(CodeSignerUnavailable, xerrors.Attributes{
		Message:  "signer keypair unavailable",
		Severity: xerrors.SeverityCritical,
		Alert:    true,
	})
}

// LoadSigner 读取 solana-keygen 生成的 JSON 密钥文件。
func LoadSigner(path string) (solana.PrivateKey, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, xerrors.New(CodeSignerUnavailable, "未配置签名密钥文件")
	}
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, xerrors.Wrap(CodeSignerUnavailable, err, "读取签名密钥失败", xerrors.WithMetadata("path", path))
	}
	return key, nil
}
