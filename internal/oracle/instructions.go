package oracle

import (
	"bytes"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	xerrors "SolOracle-Chain/internal/errors"
	"SolOracle-Chain/internal/pda"
)

// Instruction names of the agent program.
const (
	InstructionInitialize  = "initialize"
	InstructionAskGPT      = "ask_gpt"
	InstructionCallbackGPT = "callback_gpt"
	InstructionScheduleAsk = "schedule_ask"
)

type initializeArgs struct {
	SystemPrompt string
	QueryPrompt  string
}

type scheduleAskArgs struct {
	TaskID           uint16
	TriggerTimestamp int64
}

// ScheduleAccounts lists the scheduler accounts schedule_ask needs beyond
// those derivable from the plan.
type ScheduleAccounts struct {
	Maker              pda.Address
	TaskQueue          pda.Address
	TaskQueueAuthority pda.Address
	Task               pda.Address
	SchedulerProgram   pda.Address
}

// NewInitializeInstruction creates the agent account and its oracle context.
func NewInitializeInstruction(plan Plan, addrs Addresses, systemPrompt, queryPrompt string) (solana.Instruction, error) {
	if addrs.Maker.IsZero() || addrs.Agent.IsZero() || addrs.Context.IsZero() || addrs.Counter.IsZero() {
		return nil, xerrors.New(CodeMissingInput, "initialize needs the maker, agent, context and counter addresses")
	}
	if queryPrompt == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "query prompt is empty")
	}
	data, err := instructionData(InstructionInitialize, initializeArgs{SystemPrompt: systemPrompt, QueryPrompt: queryPrompt})
	if err != nil {
		return nil, err
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(publicKey(addrs.Maker), true, true),
		solana.NewAccountMeta(publicKey(addrs.Agent), true, false),
		solana.NewAccountMeta(publicKey(addrs.Context), true, false),
		solana.NewAccountMeta(publicKey(addrs.Counter), true, false),
		solana.NewAccountMeta(publicKey(plan.programs.Oracle), false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(publicKey(plan.programs.Agent), accounts, data), nil
}

// NewAskInstruction submits the stored prompt to the oracle.
func NewAskInstruction(plan Plan, addrs Addresses) (solana.Instruction, error) {
	if addrs.Agent.IsZero() || addrs.Interaction.IsZero() || addrs.Context.IsZero() {
		return nil, xerrors.New(CodeMissingInput, "ask needs the agent, interaction and context addresses")
	}
	data, err := instructionData(InstructionAskGPT, nil)
	if err != nil {
		return nil, err
	}
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(publicKey(addrs.Agent), true, false),
		solana.NewAccountMeta(publicKey(addrs.Interaction), true, false),
		solana.NewAccountMeta(publicKey(addrs.Context), false, false),
		solana.NewAccountMeta(publicKey(plan.programs.Oracle), false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(publicKey(plan.programs.Agent), accounts, data), nil
}

// NewScheduleAskInstruction registers a deferred ask with the scheduler
// program, to fire at triggerUnix.
func NewScheduleAskInstruction(plan Plan, accounts ScheduleAccounts, taskID uint16, triggerUnix int64) (solana.Instruction, error) {
	if accounts.Maker.IsZero() || accounts.TaskQueue.IsZero() || accounts.TaskQueueAuthority.IsZero() ||
		accounts.Task.IsZero() || accounts.SchedulerProgram.IsZero() {
		return nil, xerrors.New(CodeMissingInput, "schedule_ask needs the maker and all scheduler accounts")
	}
	agent, err := plan.Agent(accounts.Maker)
	if err != nil {
		return nil, err
	}
	authority, err := plan.QueueAuthority()
	if err != nil {
		return nil, err
	}
	data, err := instructionData(InstructionScheduleAsk, scheduleAskArgs{TaskID: taskID, TriggerTimestamp: triggerUnix})
	if err != nil {
		return nil, err
	}
	metas := solana.AccountMetaSlice{
		solana.NewAccountMeta(publicKey(accounts.Maker), true, true),
		solana.NewAccountMeta(publicKey(agent.Address), false, false),
		solana.NewAccountMeta(publicKey(accounts.TaskQueue), true, false),
		solana.NewAccountMeta(publicKey(accounts.TaskQueueAuthority), false, false),
		solana.NewAccountMeta(publicKey(accounts.Task), true, false),
		solana.NewAccountMeta(publicKey(authority.Address), true, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(publicKey(accounts.SchedulerProgram), false, false),
	}
	return solana.NewInstruction(publicKey(plan.programs.Agent), metas, data), nil
}

// VerifyCallbackIdentity checks that a callback signer is the oracle
// identity account.
func VerifyCallbackIdentity(plan Plan, signer pda.Address) error {
	identity, err := plan.Identity()
	if err != nil {
		return err
	}
	if signer != identity.Address {
		return xerrors.New(CodeInvalidOracleIdentity,
			"callback signer "+signer.String()+" is not the oracle identity "+identity.Address.String())
	}
	return nil
}

func instructionData(name string, args any) ([]byte, error) {
	disc := InstructionDiscriminator(name)
	buf := bytes.NewBuffer(disc[:])
	if args == nil {
		return buf.Bytes(), nil
	}
	if err := bin.NewBorshEncoder(buf).Encode(args); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "encode "+name+" arguments")
	}
	return buf.Bytes(), nil
}

func publicKey(addr pda.Address) solana.PublicKey {
	return solana.PublicKey(addr)
}
