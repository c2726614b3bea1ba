package contracts

// Minimal ABI fragments for the protocol contracts this service talks to.
const (
	rebalancingSetABI = `[{"type":"function","name":"rebalanceState","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},{"type":"function","name":"manager","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},{"type":"function","name":"currentSet","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},{"type":"function","name":"nextSet","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},{"type":"function","name":"auctionLibrary","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},{"type":"function","name":"unitShares","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},{"type":"function","name":"naturalUnit","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},{"type":"function","name":"proposalPeriod","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},{"type":"function","name":"rebalanceInterval","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},{"type":"function","name":"lastRebalanceTimestamp","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},{"type":"function","name":"proposalStartTime","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},{"type":"function","name":"startingCurrentSetAmount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},{"type":"function","name":"auctionParameters","stateMutability":"view","inputs":[],"outputs":[{"name":"auctionStartTime","type":"uint256"},{"name":"auctionTimeToPivot","type":"uint256"},{"name":"auctionStartPrice","type":"uint256"},{"name":"auctionPivotPrice","type":"uint256"}]},{"type":"function","name":"biddingParameters","stateMutability":"view","inputs":[],"outputs":[{"name":"minimumBid","type":"uint256"},{"name":"remainingCurrentSets","type":"uint256"}]},{"type":"function","name":"getCombinedTokenArray","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},{"type":"function","name":"getCombinedCurrentUnits","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256[]"}]},{"type":"function","name":"getCombinedNextSetUnits","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256[]"}]},{"type":"function","name":"getBidPrice","stateMutability":"view","inputs":[{"name":"_quantity","type":"uint256"}],"outputs":[{"name":"","type":"uint256[]"},{"name":"","type":"uint256[]"}]},{"type":"function","name":"propose","stateMutability":"nonpayable","inputs":[{"name":"_nextSet","type":"address"},{"name":"_auctionLibrary","type":"address"},{"name":"_auctionTimeToPivot","type":"uint256"},{"name":"_auctionStartPrice","type":"uint256"},{"name":"_auctionPivotPrice","type":"uint256"}],"outputs":[]},{"type":"function","name":"startRebalance","stateMutability":"nonpayable","inputs":[],"outputs":[]},{"type":"function","name":"settleRebalance","stateMutability":"nonpayable","inputs":[],"outputs":[]},{"type":"function","name":"endFailedAuction","stateMutability":"nonpayable","inputs":[],"outputs":[]},{"type":"function","name":"entryFee","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},{"type":"function","name":"rebalanceFee","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},{"type":"function","name":"rebalanceFeeCalculator","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}]`
	setTokenABI = `[{"type":"function","name":"getComponents","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address[]"}]},{"type":"function","name":"getUnits","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256[]"}]},{"type":"function","name":"naturalUnit","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]}]`
	coreABI = `[{"type":"function","name":"validSets","stateMutability":"view","inputs":[{"name":"_set","type":"address"}],"outputs":[{"name":"","type":"bool"}]},{"type":"function","name":"validPriceLibraries","stateMutability":"view","inputs":[{"name":"_priceLibrary","type":"address"}],"outputs":[{"name":"","type":"bool"}]}]`
	auctionModuleABI = `[{"type":"function","name":"bidAndWithdraw","stateMutability":"nonpayable","inputs":[{"name":"_rebalancingSetToken","type":"address"},{"name":"_quantity","type":"uint256"},{"name":"_allowPartialFill","type":"bool"}],"outputs":[]}]`
	etherBidderABI = `[{"type":"function","name":"bidAndWithdrawWithEther","stateMutability":"payable","inputs":[{"name":"_rebalancingSetToken","type":"address"},{"name":"_quantity","type":"uint256"},{"name":"_allowPartialFill","type":"bool"}],"outputs":[]}]`
	cTokenBidderABI = `[{"type":"function","name":"bidAndWithdraw","stateMutability":"nonpayable","inputs":[{"name":"_rebalancingSetToken","type":"address"},{"name":"_quantity","type":"uint256"},{"name":"_allowPartialFill","type":"bool"}],"outputs":[]}]`
	erc20ABI = `[{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"_owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"_owner","type":"address"},{"name":"_spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}]`
	cTokenABI = `[{"type":"function","name":"exchangeRateStored","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},{"type":"function","name":"underlying","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}]`
	tradingManagerABI = `[{"type":"function","name":"pools","stateMutability":"view","inputs":[{"name":"_tradingPool","type":"address"}],"outputs":[{"name":"trader","type":"address"},{"name":"allocator","type":"address"},{"name":"currentAllocation","type":"uint256"},{"name":"newEntryFee","type":"uint256"},{"name":"feeUpdateTimestamp","type":"uint256"}]},{"type":"function","name":"timeLockPeriod","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},{"type":"function","name":"timeLockedUpgrades","stateMutability":"view","inputs":[{"name":"_upgradeHash","type":"bytes32"}],"outputs":[{"name":"","type":"uint256"}]},{"type":"function","name":"updateAllocation","stateMutability":"nonpayable","inputs":[{"name":"_tradingPool","type":"address"},{"name":"_newAllocation","type":"uint256"},{"name":"_liquidatorData","type":"bytes"}],"outputs":[]},{"type":"function","name":"adjustFee","stateMutability":"nonpayable","inputs":[{"name":"_tradingPool","type":"address"},{"name":"_newFeeCallData","type":"bytes"}],"outputs":[]},{"type":"function","name":"removeRegisteredUpgrade","stateMutability":"nonpayable","inputs":[{"name":"_tradingPool","type":"address"},{"name":"_upgradeHash","type":"bytes32"}],"outputs":[]}]`
	feeCalculatorABI = `[{"type":"function","name":"maximumProfitFeePercentage","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},{"type":"function","name":"maximumStreamingFeePercentage","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},{"type":"function","name":"feeState","stateMutability":"view","inputs":[{"name":"_rebalancingSetToken","type":"address"}],"outputs":[{"name":"profitFeePeriod","type":"uint256"},{"name":"highWatermarkResetPeriod","type":"uint256"},{"name":"profitFeePercentage","type":"uint256"},{"name":"streamingFeePercentage","type":"uint256"},{"name":"highWatermark","type":"uint256"},{"name":"lastProfitFeeTimestamp","type":"uint256"},{"name":"lastStreamingFeeTimestamp","type":"uint256"}]}]`
	allocatorABI = `[{"type":"function","name":"determineNewAllocation","stateMutability":"nonpayable","inputs":[{"name":"_targetBaseAssetAllocation","type":"uint256"},{"name":"_allocationPrecision","type":"uint256"},{"name":"_currentCollateralSet","type":"address"}],"outputs":[{"name":"","type":"address"}]}]`
)
